package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cronflow/cronflow/internal/store"
)

// writeHandoffFiles materializes input.json, event.json and variables.json
// in the sandbox directory.
func writeHandoffFiles(dir string, req *Request) error {
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := os.WriteFile(filepath.Join(dir, fileInput), input, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", fileInput, err)
	}

	meta, err := json.MarshalIndent(req.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileEvent), meta, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", fileEvent, err)
	}

	vars, err := encodeVariables(req.Variables)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, fileVariables), vars, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", fileVariables, err)
	}
	return nil
}

func encodeVariables(vars map[string]json.RawMessage) ([]byte, error) {
	if vars == nil {
		vars = map[string]json.RawMessage{}
	}
	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	return data, nil
}

// collectResults reads the optional output.json and condition.json left
// behind by the script. Parse failures are warnings on the stderr channel,
// never fatal.
func collectResults(dir string, res *Result) {
	if data, err := os.ReadFile(filepath.Join(dir, fileOutput)); err == nil {
		if json.Valid(data) {
			res.Output = json.RawMessage(bytes.TrimSpace(data))
		} else {
			res.Stderr += fmt.Sprintf("\nwarning: %s is not valid JSON", fileOutput)
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, fileCondition)); err == nil {
		var cf conditionFile
		if err := json.Unmarshal(data, &cf); err != nil {
			res.Stderr += fmt.Sprintf("\nwarning: %s could not be parsed: %s", fileCondition, err)
		} else {
			res.Condition = &cf.Condition
		}
	}
}

// parseResultPayloads is the remote counterpart of collectResults, working
// on raw bytes read back over the SSH channel.
func parseResultPayloads(output, condition []byte, res *Result) {
	if len(bytes.TrimSpace(output)) > 0 {
		if json.Valid(output) {
			res.Output = json.RawMessage(bytes.TrimSpace(output))
		} else {
			res.Stderr += fmt.Sprintf("\nwarning: %s is not valid JSON", fileOutput)
		}
	}
	if len(bytes.TrimSpace(condition)) > 0 {
		var cf conditionFile
		if err := json.Unmarshal(condition, &cf); err != nil {
			res.Stderr += fmt.Sprintf("\nwarning: %s could not be parsed: %s", fileCondition, err)
		} else {
			res.Condition = &cf.Condition
		}
	}
}

// persistVariableDiff compares the post-run variables with the pre-run
// snapshot and persists only the changed keys: additions and updates as
// upserts, removals as deletes.
func persistVariableDiff(ctx context.Context, st store.Store, before, after map[string]json.RawMessage) {
	for key, val := range after {
		prev, ok := before[key]
		if ok && jsonEqual(prev, val) {
			continue
		}
		if err := st.SetVariable(ctx, key, string(val)); err != nil {
			slog.Error("Failed to persist variable", "key", key, "error", err)
		}
	}
	for key := range before {
		if _, ok := after[key]; ok {
			continue
		}
		if err := st.DeleteVariable(ctx, key); err != nil {
			slog.Error("Failed to delete variable", "key", key, "error", err)
		}
	}
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Compact(&cb, b); err != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// readVariablesFile parses a post-run variables.json payload.
func readVariablesFile(data []byte) map[string]json.RawMessage {
	var vars map[string]json.RawMessage
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil
	}
	return vars
}
