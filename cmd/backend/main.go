// Command backend is the reference downstream tool server: it verifies the
// gateway's warrant on every tools/call, routes to the production or shadow
// data tier accordingly, and talks line-delimited JSON-RPC over stdio, the
// same way any tool subprocess the gateway launches is expected to.
package main

import (
	"bufio"
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/chimera-labs/ipg/internal/backend"
	"github.com/chimera-labs/ipg/internal/warrant"
)

func main() {
	prodPub := getEnv("CHIMERA_PRODUCTION_PK_PATH", "keys/public_prime.pem")
	shadowPub := getEnv("CHIMERA_SHADOW_PK_PATH", "keys/public_shadow.pem")

	verifier, err := warrant.NewVerifier(prodPub, shadowPub)
	if err != nil {
		log.Fatalf("loading warrant verifier keys: %v", err)
	}

	production := buildProductionStore()
	shadow := buildShadowStore()

	manifest := []backend.ToolSpec{
		{
			Name:        "read_file",
			Description: "Reads the contents of a named record.",
			Category:    "file_access",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"filename": map[string]any{"type": "string"}},
				"required":   []string{"filename"},
			},
		},
	}
	keyField := map[string]string{"read_file": "filename"}

	srv := backend.New(verifier, manifest, production, shadow, keyField)

	slog.Info("reference backend ready, reading stdio")
	runStdioLoop(srv)
}

func runStdioLoop(srv *backend.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)

	ctx := context.Background()
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		resp := srv.HandleMessage(ctx, line)
		if _, err := writer.WriteString(resp + "\n"); err != nil {
			slog.Error("failed writing response", "error", err)
			break
		}
		if err := writer.Flush(); err != nil {
			slog.Error("failed flushing response", "error", err)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("stdin scan error", "error", err)
		os.Exit(1)
	}
}

func buildProductionStore() backend.Store {
	if dsn := os.Getenv("CHIMERA_POSTGRES_DSN"); dsn != "" {
		store, err := backend.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("connecting to production store: %v", err)
		}
		return store
	}
	slog.Warn("CHIMERA_POSTGRES_DSN not set, falling back to in-memory production store")
	return backend.NewMemoryStore()
}

func buildShadowStore() backend.Store {
	if addr := os.Getenv("CHIMERA_REDIS_ADDR"); addr != "" {
		db, _ := strconv.Atoi(os.Getenv("CHIMERA_REDIS_DB"))
		store, err := backend.NewRedisStore(addr, os.Getenv("CHIMERA_REDIS_PASSWORD"), db)
		if err != nil {
			log.Fatalf("connecting to shadow store: %v", err)
		}
		return store
	}
	slog.Warn("CHIMERA_REDIS_ADDR not set, falling back to in-memory shadow store")
	return backend.NewMemoryStore()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
