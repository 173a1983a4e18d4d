package transport

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHTTPTransport builds an HTTPTransport without binding a real
// listener, routing requests through httptest instead of ListenAndServe.
func newTestHTTPTransport() (*HTTPTransport, *httptest.Server) {
	t := &HTTPTransport{
		inbound: make(chan string),
		pending: make(map[string]chan string),
		logger:  slog.Default(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/mcp", t.handleMCP).Methods("POST")
	srv := httptest.NewServer(router)
	return t, srv
}

func TestHTTPTransport_EmptyBodyRejectedWith400(t *testing.T) {
	_, srv := newTestHTTPTransport()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPTransport_InvalidJSONRejectedWith400(t *testing.T) {
	_, srv := newTestHTTPTransport()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPTransport_ParksRequestUntilWriteMessage(t *testing.T) {
	tr, srv := newTestHTTPTransport()
	defer srv.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/mcp", "application/json", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
		require.NoError(t, err)
		done <- resp
	}()

	var body string
	select {
	case body = <-tr.inbound:
	case <-time.After(time.Second):
		t.Fatal("request never reached inbound channel")
	}
	assert.Contains(t, body, `"id":1`)

	require.NoError(t, tr.WriteMessage(context.Background(), `{"jsonrpc":"2.0","id":1,"result":{}}`))

	select {
	case resp := <-done:
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("response never completed")
	}
}

func TestHTTPTransport_OrphanWriteMessageDropsSilently(t *testing.T) {
	tr, srv := newTestHTTPTransport()
	defer srv.Close()

	err := tr.WriteMessage(context.Background(), `{"jsonrpc":"2.0","id":"nobody-waiting","result":{}}`)
	assert.NoError(t, err)
}
