package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const requestTimeout = 30 * time.Second

// HTTPTransport exposes POST /mcp. Each request is parked by its JSON-RPC
// id until the interceptor loop calls WriteMessage with the matching id,
// or until requestTimeout elapses.
type HTTPTransport struct {
	addr    string
	server  *http.Server
	inbound chan string

	mu      sync.Mutex
	pending map[string]chan string

	logger *slog.Logger
}

// NewHTTP builds an HTTPTransport bound to addr (e.g. ":8088").
func NewHTTP(addr string) *HTTPTransport {
	t := &HTTPTransport{
		addr:    addr,
		inbound: make(chan string),
		pending: make(map[string]chan string),
		logger:  slog.Default().With("component", "transport_http"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/mcp", t.handleMCP).Methods("POST")
	t.server = &http.Server{Addr: addr, Handler: router}
	return t
}

// ReadMessages returns the channel fed by incoming POST /mcp bodies.
func (t *HTTPTransport) ReadMessages(ctx context.Context) (<-chan string, <-chan error) {
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	return t.inbound, errs
}

// WriteMessage delivers msg to the HTTP request parked under msg's id. An
// id with no parked request is an orphan: logged and dropped.
func (t *HTTPTransport) WriteMessage(_ context.Context, msg string) error {
	idKey, err := extractIDKey(msg)
	if err != nil {
		t.logger.Warn("write message has no parseable id, dropping", "error", err)
		return nil
	}

	t.mu.Lock()
	ch, ok := t.pending[idKey]
	if ok {
		delete(t.pending, idKey)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("orphan response for unknown request id, dropping", "id", idKey)
		return nil
	}

	ch <- msg
	return nil
}

// Close shuts down the HTTP server.
func (t *HTTPTransport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

func (t *HTTPTransport) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid JSON-RPC body", http.StatusBadRequest)
		return
	}

	idKey := idKeyOf(envelope["id"])
	respCh := make(chan string, 1)

	t.mu.Lock()
	t.pending[idKey] = respCh
	t.mu.Unlock()

	select {
	case <-r.Context().Done():
	case t.inbound <- string(body):
	}

	select {
	case resp := <-respCh:
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	case <-time.After(requestTimeout):
		t.mu.Lock()
		delete(t.pending, idKey)
		t.mu.Unlock()
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}
}

func extractIDKey(msg string) (string, error) {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(msg), &envelope); err != nil {
		return "", err
	}
	return idKeyOf(envelope["id"]), nil
}

func idKeyOf(id any) string {
	return fmt.Sprintf("%v", id)
}
