package transport

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioTransport_ReadMessagesSplitsLines(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n{\"b\":2}\n")
	var out bytes.Buffer
	tr := NewStdio(in, &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, errs := tr.ReadMessages(ctx)

	got := []string{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-msgs:
			got = append(got, m)
		case err := <-errs:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, []string{"{\"a\":1}", "{\"b\":2}"}, got)
}

func TestStdioTransport_WriteMessageAppendsNewline(t *testing.T) {
	var out bytes.Buffer
	tr := NewStdio(strings.NewReader(""), &out)

	require.NoError(t, tr.WriteMessage(context.Background(), `{"ok":true}`))
	assert.Equal(t, "{\"ok\":true}\n", out.String())
}

func TestStdioTransport_SkipsBlankLines(t *testing.T) {
	in := strings.NewReader("\n{\"a\":1}\n\n")
	var out bytes.Buffer
	tr := NewStdio(in, &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, _ := tr.ReadMessages(ctx)

	select {
	case m := <-msgs:
		assert.Equal(t, `{"a":1}`, m)
	case <-ctx.Done():
		t.Fatal("timed out")
	}
}
