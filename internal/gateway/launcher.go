package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const dockerPrefix = "docker://"

// Launcher starts and supervises the downstream tool server, exposing its
// stdin/stdout as plain io streams regardless of whether it runs as a local
// subprocess or inside a container.
type Launcher interface {
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	Stop(ctx context.Context, grace time.Duration) error
}

// NewLauncher picks a process or Docker launcher based on the command
// string's prefix. A command of the form "docker://image[:tag] arg1 arg2"
// runs the downstream tool inside a fresh container instead of a local
// subprocess.
func NewLauncher(command string) Launcher {
	if strings.HasPrefix(command, dockerPrefix) {
		return &dockerLauncher{spec: strings.TrimPrefix(command, dockerPrefix)}
	}
	return &processLauncher{command: command}
}

// processLauncher runs the downstream command as a local subprocess with
// piped stdin/stdout and passthrough stderr.
type processLauncher struct {
	command string
	cmd     *exec.Cmd
}

func (l *processLauncher) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	fields := strings.Fields(l.command)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty downstream command")
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("downstream stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("downstream stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("downstream start: %w", err)
	}
	l.cmd = cmd
	return stdin, stdout, nil
}

func (l *processLauncher) Stop(ctx context.Context, grace time.Duration) error {
	if l.cmd == nil || l.cmd.Process == nil {
		return nil
	}
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- l.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return l.cmd.Process.Kill()
	}
}

// dockerLauncher runs the downstream tool inside a fresh, network-isolated
// container, attaching to its stdio over the Docker API instead of an OS
// pipe. spec is "image[:tag] arg1 arg2..." after the docker:// prefix.
type dockerLauncher struct {
	spec        string
	cli         *client.Client
	containerID string
	hijacked    types.HijackedResponse
}

func (l *dockerLauncher) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	fields := strings.Fields(l.spec)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty docker image spec")
	}
	image, cmdArgs := fields[0], fields[1:]

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("docker client: %w", err)
	}
	l.cli = cli

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          cmdArgs,
		Tty:          false,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{NetworkMode: "bridge"}, nil, nil, "")
	if err != nil {
		return nil, nil, fmt.Errorf("create downstream container: %w", err)
	}
	l.containerID = resp.ID

	hijacked, err := cli.ContainerAttach(ctx, resp.ID, types.ContainerAttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("attach downstream container: %w", err)
	}
	l.hijacked = hijacked

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, nil, fmt.Errorf("start downstream container: %w", err)
	}

	return hijacked.Conn, io.NopCloser(hijacked.Reader), nil
}

func (l *dockerLauncher) Stop(ctx context.Context, grace time.Duration) error {
	if l.cli == nil || l.containerID == "" {
		return nil
	}
	defer l.cli.Close()
	l.hijacked.Close()

	timeoutSec := int(grace.Seconds())
	if err := l.cli.ContainerStop(ctx, l.containerID, container.StopOptions{Timeout: &timeoutSec}); err != nil {
		return err
	}
	return l.cli.ContainerRemove(ctx, l.containerID, types.ContainerRemoveOptions{Force: true})
}
