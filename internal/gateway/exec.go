package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultExecTimeout is the in-gateway timeout applied when the caller
// passes zero.
const DefaultExecTimeout = 20 * time.Second

// execGrace is added on top of the requested timeout for the HTTP deadline,
// so the gateway's own timeout fires first and returns a structured result
// instead of a severed connection.
const execGrace = 5 * time.Second

// ExecResult is the structured outcome of one remote command execution.
// Stdout is passed through untouched; structured extraction from it is a
// caller concern (see ExtractJSONObject).
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

type execRequest struct {
	Command string `json:"command"`
	Timeout int64  `json:"timeout"`
}

// CommandError reports a failed exec call: the gateway answered non-success
// or the call exceeded its deadline. The gateway's response body, when any,
// is preserved verbatim.
type CommandError struct {
	Status int
	Body   string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command failed: %v", e.Err)
	}
	return fmt.Sprintf("command failed: gateway responded %d: %s", e.Status, e.Body)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Execute runs a command line on the gateway host through the internal exec
// endpoint. A single attempt is made; retry policy belongs to callers.
func (c *Client) Execute(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	payload, err := json.Marshal(execRequest{
		Command: command,
		Timeout: timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode exec payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+execGrace)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backend.BaseURL+"/api/internal/exec", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &CommandError{Err: fmt.Errorf("exec exceeded %s: %w", timeout, err)}
		}
		return nil, &CommandError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &CommandError{Err: fmt.Errorf("read exec response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CommandError{Status: resp.StatusCode, Body: string(raw)}
	}

	var result ExecResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &CommandError{Err: fmt.Errorf("decode exec response: %w", err)}
	}
	return &result, nil
}

// ExecuteArgs builds the command line from a structured argument list with
// per-argument quoting and runs it. User-controlled values must arrive as
// individual arguments, never pre-joined into command.
func (c *Client) ExecuteArgs(ctx context.Context, argv []string, timeout time.Duration) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, &CommandError{Err: errors.New("empty argument list")}
	}
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	return c.Execute(ctx, strings.Join(quoted, " "), timeout)
}

// quoteArg wraps arg in POSIX single quotes so the gateway shell treats it
// as one literal word.
func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'`$\\&|;<>()*?[]#~%{}!") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
