package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerBackend runs the runner inside a container so provider tooling and
// its credentials stay isolated from the orchestrator host.
type DockerBackend struct {
	cli   *client.Client
	image string
}

// NewDocker creates a docker-backed runner using the host docker daemon.
func NewDocker(image string) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("runner: docker client: %w", err)
	}
	return &DockerBackend{cli: cli, image: image}, nil
}

func (b *DockerBackend) Name() string {
	return "docker"
}

func (b *DockerBackend) Run(ctx context.Context, prompt string, strategy Strategy, providers []string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := fmt.Sprintf("reflex-runner-%d", time.Now().UnixNano())
	ctxDir := filepath.Join(os.TempDir(), name)
	if err := os.MkdirAll(ctxDir, 0755); err != nil {
		return nil, fmt.Errorf("runner: create context dir: %w", err)
	}
	defer os.RemoveAll(ctxDir)

	if err := os.WriteFile(filepath.Join(ctxDir, "prompt.txt"), []byte(prompt), 0644); err != nil {
		return nil, fmt.Errorf("runner: write prompt: %w", err)
	}

	cmd := []string{
		"--strategy", string(strategy),
		"--timeout", strconv.Itoa(int(timeout.Seconds())),
		"--prompt-file", "/runner-ctx/prompt.txt",
	}
	if len(providers) > 0 {
		cmd = append(cmd, "--providers", strings.Join(providers, ","))
	}

	containerConfig := &container.Config{
		Image: b.image,
		Cmd:   cmd,
		Tty:   false,
		Env: []string{
			"ANTHROPIC_API_KEY=" + os.Getenv("ANTHROPIC_API_KEY"),
			"OPENAI_API_KEY=" + os.Getenv("OPENAI_API_KEY"),
			"GEMINI_API_KEY=" + os.Getenv("GEMINI_API_KEY"),
		},
	}
	ctxPath, _ := filepath.Abs(ctxDir)
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: ctxPath, Target: "/runner-ctx", ReadOnly: true},
		},
		AutoRemove: false,
	}

	resp, err := b.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("runner: create container: %w", err)
	}
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		b.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("runner: start container: %w", err)
	}

	waitCh, errCh := b.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("runner: wait container: %w", err)
	case <-ctx.Done():
		return nil, context.DeadlineExceeded
	}

	stdout, stderr, err := b.containerOutput(resp.ID)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return nil, fmt.Errorf("runner exited abnormally: %s", msg)
	}
	return []byte(stdout), nil
}

func (b *DockerBackend) containerOutput(id string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := b.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("runner: container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("runner: demux logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// Available reports whether the docker daemon answers on this host.
func (b *DockerBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := b.cli.Ping(ctx)
	return err == nil
}
