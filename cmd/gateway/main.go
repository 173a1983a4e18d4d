// Command gateway is the CHIMERA protocol gateway entrypoint: it loads
// configuration, wires the Session Store, Risk Judge, Policy Engine,
// Warrant Authority, and Forensic Ledger into an Interceptor, then runs
// the Gateway over the configured upstream transport until shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chimera-labs/ipg/internal/config"
	"github.com/chimera-labs/ipg/internal/gateway"
	"github.com/chimera-labs/ipg/internal/interceptor"
	"github.com/chimera-labs/ipg/internal/judge"
	"github.com/chimera-labs/ipg/internal/ledger"
	"github.com/chimera-labs/ipg/internal/policy"
	"github.com/chimera-labs/ipg/internal/sanitizer"
	"github.com/chimera-labs/ipg/internal/session"
	"github.com/chimera-labs/ipg/internal/transport"
	"github.com/chimera-labs/ipg/internal/warrant"
)

func main() {
	configPath := os.Getenv("CHIMERA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	auth, err := warrant.NewAuthority(cfg.Keys.ProductionPrivateKeyPath, cfg.Keys.ShadowPrivateKeyPath)
	if err != nil {
		log.Fatalf("loading warrant authority keys: %v", err)
	}

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Fatalf("opening forensic ledger: %v", err)
	}
	defer led.Close()

	sessions := session.NewStore(
		session.AccumulationConfig{
			Enabled:       cfg.Policy.RiskAccumulation.IsEnabled(),
			Method:        cfg.Policy.RiskAccumulation.Method,
			DecayRate:     cfg.Policy.RiskAccumulation.DecayRate,
			WindowMinutes: cfg.Policy.RiskAccumulation.WindowMinutes,
		},
		session.CompileTaintConfig(cfg.Taint.UntrustedPatterns, cfg.Taint.TrustedPatterns, cfg.Taint.DefaultTrust),
	)

	riskJudge := buildJudge(cfg.NSIE)

	manifest, err := policy.BuildManifest(cfg.Policy)
	if err != nil {
		log.Fatalf("compiling policy manifest: %v", err)
	}
	engine := policy.NewEngine(manifest)

	toolCategories := make(map[string]string, len(cfg.Backend.Tools))
	for name, tool := range cfg.Backend.Tools {
		toolCategories[name] = tool.Category
	}

	ic := interceptor.New(sessions, riskJudge, engine, auth, led, toolCategories, "read_file")
	san := sanitizer.New()

	upstream := selectTransport(cfg.Server)
	launcher := gateway.NewLauncher(cfg.Server.DownstreamCmd)
	grace := time.Duration(cfg.Server.ShutdownGraceMS) * time.Millisecond

	gw := gateway.New(upstream, launcher, ic, san, grace)

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("chimera gateway starting", "transport", cfg.Server.Transport, "downstream", cfg.Server.DownstreamCmd)
	if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("chimera gateway shut down cleanly")
}

func selectTransport(cfg config.ServerConfig) transport.Transport {
	if cfg.Transport == "http" {
		return transport.NewHTTP(cfg.HTTPAddr)
	}
	return transport.NewStdio(os.Stdin, os.Stdout)
}

func buildJudge(cfg config.NSIEConfig) judge.Judge {
	if cfg.OracleAddr != "" {
		oracle, err := judge.NewOracleClient(cfg.OracleAddr, cfg.RateLimitPerSecond, cfg.RateLimitBurst, time.Duration(cfg.OracleTimeoutMS)*time.Millisecond)
		if err == nil {
			return oracle
		}
		slog.Warn("oracle client unavailable, falling back to deterministic judge", "error", err)
	}

	var rules []judge.MockRule
	if len(cfg.MockRules) == 0 {
		rules = judge.DefaultMockRules()
	} else {
		rules = make([]judge.MockRule, 0, len(cfg.MockRules))
		for _, r := range cfg.MockRules {
			rules = append(rules, judge.MockRule{
				Tools:      r.Tools,
				Field:      r.Field,
				Operator:   policy.Operator(r.Operator),
				Value:      r.Value,
				RiskScore:  r.RiskScore,
				Confidence: r.Confidence,
				Reason:     r.Reason,
				Tags:       r.Tags,
			})
		}
	}
	fallback := judge.DefaultAssessment{
		RiskScore:  cfg.DefaultMock.RiskScore,
		Confidence: cfg.DefaultMock.Confidence,
		Reason:     cfg.DefaultMock.Reason,
		Tags:       cfg.DefaultMock.Tags,
	}
	return judge.NewDeterministicJudge(rules, fallback)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}
