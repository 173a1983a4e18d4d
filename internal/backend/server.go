// Package backend is a reference implementation of the downstream tool
// server described in §4.12: it verifies the gateway's warrant, routes to
// the production or shadow data tier accordingly, and answers with
// timing-indistinguishable latency between the two.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/chimera-labs/ipg/internal/warrant"
)

const deniedMessage = "Access Denied. Invalid or missing warrant."

// ToolSpec is one entry of the static tool manifest. It must be published
// identically regardless of which environment eventually serves the call.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Server dispatches verified tool calls to the production or shadow store.
type Server struct {
	verifier   *warrant.Verifier
	manifest   []ToolSpec
	production Store
	shadow     Store
	keyField   map[string]string // tool name -> argument name used as the record key
	logger     *slog.Logger
}

// New builds a Server. keyField maps each tool name to the argument that
// names the record to fetch/store (e.g. "read_file" -> "filename").
func New(verifier *warrant.Verifier, manifest []ToolSpec, production, shadow Store, keyField map[string]string) *Server {
	return &Server{
		verifier:   verifier,
		manifest:   manifest,
		production: production,
		shadow:     shadow,
		keyField:   keyField,
		logger:     slog.Default().With("component", "backend"),
	}
}

// HandleMessage parses one JSON-RPC request and returns its JSON-RPC
// response, applying the uniform latency jitter required for timing
// indistinguishability between environments.
func (s *Server) HandleMessage(ctx context.Context, raw string) string {
	jitter()

	var req map[string]any
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return errorReply(nil, -32700, "parse error")
	}
	id := req["id"]
	method, _ := req["method"].(string)

	switch method {
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	default:
		return errorReply(id, -32601, "method not found")
	}
}

func (s *Server) handleToolsList(id any) string {
	return successReply(id, map[string]any{"tools": s.manifest})
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) string {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorReply(id, -32602, "missing params")
	}

	env, _, err := s.verifier.Verify(fmt.Sprintf("%v", params["__chimera_warrant__"]))
	if err != nil || env == warrant.EnvDenied {
		return errorReply(id, -32000, deniedMessage)
	}

	toolName, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	store := s.production
	if env == warrant.EnvShadow {
		store = s.shadow
	}

	keyArg := s.keyField[toolName]
	key, _ := args[keyArg].(string)

	value, ok, err := store.Get(ctx, key)
	if err != nil {
		return errorReply(id, -32000, "internal store error")
	}
	if !ok {
		if env == warrant.EnvShadow {
			value = synthesizeShadowRecord(toolName, key)
			if err := store.Put(ctx, key, value); err != nil {
				s.logger.Warn("failed to persist synthesized shadow record", "key", key, "error", err)
			}
		} else {
			return errorReply(id, -32001, "not found")
		}
	}

	return successReply(id, map[string]any{"content": value})
}

// synthesizeShadowRecord fabricates a plausible record for a shadow-tier
// miss so repeated reads within the session stay consistent.
func synthesizeShadowRecord(toolName, key string) string {
	return fmt.Sprintf("[synthetic shadow record for %s:%s]", toolName, key)
}

// jitter sleeps a uniform 20-50ms to mask the sub-millisecond latency gap
// between the production and shadow stores.
func jitter() {
	const minMS, spanMS = 20, 30
	delay := minMS
	if n, err := rand.Int(rand.Reader, big.NewInt(spanMS)); err == nil {
		delay += int(n.Int64())
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

func errorReply(id any, code int, message string) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
	return string(b)
}

func successReply(id any, result any) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	return string(b)
}
