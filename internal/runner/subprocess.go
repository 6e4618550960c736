package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SubprocessBackend invokes the runner binary directly. The prompt is passed
// on stdin; strategy, provider subset, and timeout as arguments; the result
// document is read from stdout.
type SubprocessBackend struct {
	binary string
}

// NewSubprocess creates a backend running the given binary.
func NewSubprocess(binary string) *SubprocessBackend {
	return &SubprocessBackend{binary: binary}
}

func (b *SubprocessBackend) Name() string {
	return "subprocess"
}

func (b *SubprocessBackend) Run(ctx context.Context, prompt string, strategy Strategy, providers []string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--strategy", string(strategy), "--timeout", strconv.Itoa(int(timeout.Seconds()))}
	if len(providers) > 0 {
		args = append(args, "--providers", strings.Join(providers, ","))
	}

	cmd := exec.CommandContext(ctx, b.binary, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("runner exited abnormally: %s", msg)
	}
	return stdout.Bytes(), nil
}
