package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// CommandService asks an external executable. The request is written to the
// command's stdin as JSON and a Response is read back from stdout.
type CommandService struct {
	path    string
	args    []string
	timeout time.Duration
	retry   service.RetryOptions
}

// NewCommandService resolves path and returns a service invoking it.
func NewCommandService(path string, args []string, timeout time.Duration) (*CommandService, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: ai command %q not found: %w", common.ErrInvalidConfig, path, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandService{
		path:    resolved,
		args:    args,
		timeout: timeout,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}, nil
}

// Suggest runs the command, retrying transient failures.
func (c *CommandService) Suggest(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := common.WithRetry(ctx, func(ctx context.Context) error {
		var runErr error
		resp, runErr = c.run(ctx, req)
		return runErr
	}, c.retry)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *CommandService) run(ctx context.Context, req Request) (Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode ai request: %w", err)
	}

	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, c.path, c.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %w", common.ErrAIUnavailable, cmdCtx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Response{}, fmt.Errorf("%w: %s", common.ErrAIUnavailable, msg)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Response{}, &common.RetryableError{
			Err:       fmt.Errorf("failed to parse ai response: %w", err),
			Retryable: false,
		}
	}
	if resp.Result == "" {
		return Response{}, ErrNoAnswer
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return Response{}, fmt.Errorf("ai response confidence %v out of range", resp.Confidence)
	}
	if resp.SignalID == "" {
		resp.SignalID = uuid.NewString()
	}
	return resp, nil
}
