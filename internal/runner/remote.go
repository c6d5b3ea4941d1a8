package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/services"
	"github.com/cronflow/cronflow/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// RemoteRunner executes a script on a target host over SSH with the same
// handoff-file contract as local execution.
type RemoteRunner struct {
	pool  *services.SSHPool
	enc   *crypto.Encryptor
	store store.Store
}

func NewRemoteRunner(pool *services.SSHPool, enc *crypto.Encryptor, st store.Store) *RemoteRunner {
	return &RemoteRunner{pool: pool, enc: enc, store: st}
}

// TestConnection performs the lightweight connectivity probe against a
// target host.
func (r *RemoteRunner) TestConnection(target *models.Target) (bool, string) {
	password, privateKey, err := r.credentials(target)
	if err != nil {
		return false, fmt.Sprintf("credential decryption failed: %s", err)
	}
	return services.TestConnection(target.Host, target.Port, target.Username, password, privateKey, target.AuthType)
}

// Run probes the target, stages the handoff files and helper stub on the
// remote host, runs the script with the timeout contract, reads back the
// result files and removes the remote directory. Connectivity problems are
// returned as errors; script-level failures land in the Result.
func (r *RemoteRunner) Run(ctx context.Context, target *models.Target, req *Request) (*Result, error) {
	if ok, msg := r.TestConnection(target); !ok {
		return nil, fmt.Errorf("target %s unreachable: %s", target.Host, msg)
	}

	password, privateKey, err := r.credentials(target)
	if err != nil {
		return nil, err
	}

	client, err := r.pool.GetConnection(target.Host, target.Port, target.Username, password, privateKey, target.AuthType)
	if err != nil {
		return nil, err
	}

	dir := "/tmp/cronflow-" + uuid.NewString()
	if err := runCommand(client, fmt.Sprintf("mkdir -p %s", dir)); err != nil {
		return nil, fmt.Errorf("create remote dir: %w", err)
	}
	defer func() {
		_ = runCommand(client, fmt.Sprintf("rm -rf %s", dir))
	}()

	if err := r.stageFiles(client, dir, req); err != nil {
		return nil, err
	}

	invocation, err := remoteInvocation(req.Event.ScriptType)
	if err != nil {
		return nil, err
	}
	cmdline := fmt.Sprintf("cd %s && %s%s", dir, envPrefix(req.Env), invocation)

	res, err := r.runWithTimeout(ctx, client, cmdline, req)
	if err != nil {
		return nil, err
	}

	output := captureFile(client, dir, fileOutput)
	condition := captureFile(client, dir, fileCondition)
	parseResultPayloads(output, condition, res)

	if data := captureFile(client, dir, fileVariables); len(data) > 0 {
		if after := readVariablesFile(data); after != nil {
			persistVariableDiff(context.WithoutCancel(ctx), r.store, req.Variables, after)
		}
	}

	return res, nil
}

func (r *RemoteRunner) runWithTimeout(ctx context.Context, client *ssh.Client, cmdline string, req *Request) (*Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmdline); err != nil {
		return nil, fmt.Errorf("start remote command: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	res := &Result{}

	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = fmt.Sprintf("execution timed out after %s", req.Timeout)
	case waitErr := <-done:
		if waitErr != nil {
			var exitErr *ssh.ExitError
			if errors.As(waitErr, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				res.Err = fmt.Sprintf("exit status %d", res.ExitCode)
				if tail := lastLines(stderr.String(), 5); tail != "" {
					res.Err += ": " + tail
				}
			} else {
				res.ExitCode = -1
				res.Err = waitErr.Error()
			}
		}
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String() + res.Stderr
	return res, nil
}

// stageFiles streams the three handoff files, the helper stub and the user
// script into the remote directory.
func (r *RemoteRunner) stageFiles(client *ssh.Client, dir string, req *Request) error {
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	meta, err := json.MarshalIndent(req.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	vars, err := encodeVariables(req.Variables)
	if err != nil {
		return err
	}

	helperName, helperBody, err := helperFor(req.Event.ScriptType)
	if err != nil {
		return err
	}
	scriptName, err := scriptFileFor(req.Event.ScriptType)
	if err != nil {
		return err
	}

	files := []struct {
		name    string
		content []byte
	}{
		{fileInput, input},
		{fileEvent, meta},
		{fileVariables, vars},
		{helperName, []byte(helperBody)},
		{scriptName, []byte(req.Event.Content)},
	}
	for _, f := range files {
		if err := uploadFile(client, dir+"/"+f.name, f.content); err != nil {
			return fmt.Errorf("stage %s: %w", f.name, err)
		}
	}
	return nil
}

func (r *RemoteRunner) credentials(target *models.Target) (password, privateKey string, err error) {
	password, err = r.enc.Decrypt(target.EncryptedPassword)
	if err != nil {
		return "", "", fmt.Errorf("decrypt password: %w", err)
	}
	privateKey, err = r.enc.Decrypt(target.EncryptedPrivateKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt private key: %w", err)
	}
	return password, privateKey, nil
}

func uploadFile(client *ssh.Client, path string, content []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(content)
	return session.Run(fmt.Sprintf("cat > %s", path))
}

func captureFile(client *ssh.Client, dir, name string) []byte {
	session, err := client.NewSession()
	if err != nil {
		return nil
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(fmt.Sprintf("cat %s/%s 2>/dev/null", dir, name)); err != nil {
		return nil
	}
	return out.Bytes()
}

func runCommand(client *ssh.Client, cmdline string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run(cmdline)
}

// remoteInvocation mirrors interpreterArgs as a single shell command line,
// relative to the remote working directory.
func remoteInvocation(scriptType string) (string, error) {
	switch scriptType {
	case models.ScriptShell:
		return `bash -c 'source ./cronflow.sh; source ./script.sh'`, nil
	case models.ScriptPython:
		return `python3 -c 'exec(open("cronflow.py").read()); exec(open("script.py").read())'`, nil
	case models.ScriptNode:
		return `node -e 'require("./cronflow.js"); require("./script.js");'`, nil
	default:
		return "", fmt.Errorf("unsupported script type %q", scriptType)
	}
}

// envPrefix renders caller-supplied variables as shell assignments ahead of
// the interpreter invocation.
func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range env {
		b.WriteString(fmt.Sprintf("%s=%s ", k, shellQuote(v)))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
