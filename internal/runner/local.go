package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cronflow/cronflow/internal/store"
	"github.com/google/uuid"
)

// LocalRunner executes a script as a child process inside a fresh,
// uniquely-named working directory that is always removed afterwards.
type LocalRunner struct {
	store   store.Store
	baseDir string
}

func NewLocalRunner(st store.Store, baseDir string) *LocalRunner {
	return &LocalRunner{store: st, baseDir: baseDir}
}

func (r *LocalRunner) Run(ctx context.Context, req *Request) (*Result, error) {
	dir := filepath.Join(r.baseDir, "cronflow-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove sandbox dir", "dir", dir, "error", err)
		}
	}()

	if err := writeHandoffFiles(dir, req); err != nil {
		return nil, err
	}

	helperName, helperBody, err := helperFor(req.Event.ScriptType)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, helperName), []byte(helperBody), 0o700); err != nil {
		return nil, fmt.Errorf("write helper stub: %w", err)
	}

	scriptName, err := scriptFileFor(req.Event.ScriptType)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, scriptName), []byte(req.Event.Content), 0o700); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	interp, args, err := interpreterArgs(req.Event.ScriptType)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interp, args...)
	cmd.Dir = dir
	cmd.Env = mergedEnv(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// The process was killed by the timeout, not by its own exit.
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = fmt.Sprintf("execution timed out after %s", req.Timeout)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Err = fmt.Sprintf("exit status %d", res.ExitCode)
			if tail := lastLines(stderr.String(), 5); tail != "" {
				res.Err += ": " + tail
			}
		} else {
			res.ExitCode = -1
			res.Err = runErr.Error()
		}
	}

	collectResults(dir, res)

	// Persist variable changes even when the parent context is winding down.
	if data, err := os.ReadFile(filepath.Join(dir, fileVariables)); err == nil {
		if after := readVariablesFile(data); after != nil {
			persistVariableDiff(context.WithoutCancel(ctx), r.store, req.Variables, after)
		} else {
			res.Stderr += fmt.Sprintf("\nwarning: %s could not be parsed, variable changes dropped", fileVariables)
		}
	}

	return res, nil
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
