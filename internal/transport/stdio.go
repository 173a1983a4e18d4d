package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// StdioTransport speaks line-delimited JSON-RPC over the process's own
// stdin/stdout. Reads run on a dedicated goroutine so a slow or idle
// upstream never stalls the downstream forwarder.
type StdioTransport struct {
	in     io.Reader
	out    io.Writer
	writer *bufio.Writer
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStdio builds a StdioTransport over the given reader/writer (typically
// os.Stdin and os.Stdout).
func NewStdio(in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		in:     in,
		out:    out,
		writer: bufio.NewWriter(out),
		logger: slog.Default().With("component", "transport_stdio"),
	}
}

// ReadMessages scans newline-terminated lines off the reader until EOF or
// ctx cancellation, delivering each onto the returned channel.
func (t *StdioTransport) ReadMessages(ctx context.Context) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	return out, errs
}

// WriteMessage writes msg followed by a newline and flushes immediately.
func (t *StdioTransport) WriteMessage(_ context.Context, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintln(t.writer, msg); err != nil {
		return err
	}
	return t.writer.Flush()
}

// Close is a no-op for stdio; the process owns stdin/stdout's lifecycle.
func (t *StdioTransport) Close() error {
	return nil
}
