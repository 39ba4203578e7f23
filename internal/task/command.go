package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

// request is the JSON document written to a framework adapter's stdin.
type request struct {
	Input string `json:"input"`
}

// response is the JSON document a framework adapter writes to stdout.
// Status "ok" carries a Result; anything else carries an error kind and
// message.
type response struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Result
}

// CommandUnit runs a framework adapter executable per execution:
// request JSON on stdin, response JSON on stdout. Cancellation kills
// the process via the command context.
type CommandUnit struct {
	Command []string
	Dir     string
	Env     []string
}

func (u *CommandUnit) Execute(ctx context.Context, input string) (*Result, error) {
	if len(u.Command) == 0 {
		return nil, Errorf(KindFatal, "no command configured")
	}

	reqData, err := json.Marshal(request{Input: input})
	if err != nil {
		return nil, Errorf(KindValidation, "encoding request: %v", err)
	}

	cmd := exec.CommandContext(ctx, u.Command[0], u.Command[1:]...)
	cmd.Dir = u.Dir
	cmd.Env = u.Env
	cmd.Stdin = bytes.NewReader(reqData)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, classifyExit(exitErr.ExitCode(), stderr.String())
		}
		return nil, Errorf(KindFatal, "running %s: %v", u.Command[0], runErr)
	}

	return decodeResponse(stdout.Bytes())
}

// classifyExit maps adapter exit codes onto the error taxonomy.
// Adapters signal a retryable condition with exit code 75 (EX_TEMPFAIL)
// and bad input with 65 (EX_DATAERR); anything else is fatal.
func classifyExit(code int, stderr string) *Error {
	detail := stderr
	if detail == "" {
		detail = fmt.Sprintf("exit code %d", code)
	}
	switch code {
	case 75:
		return Errorf(KindTransient, "%s", detail)
	case 65:
		return Errorf(KindValidation, "%s", detail)
	default:
		return Errorf(KindFatal, "%s", detail)
	}
}

func decodeResponse(data []byte) (*Result, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, Errorf(KindValidation, "malformed adapter response: %v", err)
	}
	switch resp.Status {
	case "ok":
		return &resp.Result, nil
	case "error":
		kind := ErrorKind(resp.ErrorKind)
		switch kind {
		case KindTransient, KindValidation, KindFatal:
		default:
			kind = KindFatal
		}
		return nil, Errorf(kind, "%s", resp.Error)
	default:
		return nil, Errorf(KindValidation, "adapter response status %q", resp.Status)
	}
}
