// Package interceptor orchestrates one inbound JSON-RPC message through the
// Session Store, Risk Judge, Policy Engine, Warrant Authority, and Forensic
// Ledger, producing either a rewritten message for downstream forwarding or
// a denial reply to hand straight back upstream.
package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chimera-labs/ipg/internal/judge"
	"github.com/chimera-labs/ipg/internal/ledger"
	"github.com/chimera-labs/ipg/internal/policy"
	"github.com/chimera-labs/ipg/internal/session"
	"github.com/chimera-labs/ipg/internal/warrant"
)

const (
	methodToolsCall  = "tools/call"
	warrantParamsKey = "__chimera_warrant__"
	defaultUserID    = "anonymous"
	defaultUserRole  = "guest"
)

// Outcome is the result of processing one inbound message.
type Outcome struct {
	// Message is either the rewritten request (forward downstream) or a
	// synthesized JSON-RPC error reply (send directly upstream), per Block.
	Message string
	Route   string
	Block   bool
}

// Interceptor wires the per-session risk pipeline together. toolCategories
// maps a tool name to "safe"/"sensitive" per the backend's tool manifest;
// an unlisted tool defaults to "safe". fileReaderTools names the tools whose
// first string-valued path-like argument feeds UpdateTaint.
type Interceptor struct {
	sessions       *session.Store
	judge          judge.Judge
	policy         *policy.Engine
	authority      *warrant.Authority
	ledger         *ledger.Ledger
	toolCategories map[string]string
	fileReaderTool string
	logger         *slog.Logger
}

// New builds an Interceptor from its fully constructed collaborators.
func New(sessions *session.Store, j judge.Judge, eng *policy.Engine, auth *warrant.Authority, led *ledger.Ledger, toolCategories map[string]string, fileReaderTool string) *Interceptor {
	if fileReaderTool == "" {
		fileReaderTool = "read_file"
	}
	return &Interceptor{
		sessions:       sessions,
		judge:          j,
		policy:         eng,
		authority:      auth,
		ledger:         led,
		toolCategories: toolCategories,
		fileReaderTool: fileReaderTool,
		logger:         slog.Default().With("component", "interceptor"),
	}
}

// Process implements §4.10's 9-step orchestration.
func (ic *Interceptor) Process(ctx context.Context, raw string) Outcome {
	var msg map[string]any
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Outcome{Message: raw, Route: policy.RouteProduction}
	}

	method, _ := msg["method"].(string)
	if method != methodToolsCall {
		return Outcome{Message: raw, Route: policy.RouteProduction}
	}

	params, _ := msg["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	toolName, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	callCtx := ic.extractContext(msg, params)
	sessionID, _ := callCtx["session_id"].(string)
	callerSource, _ := callCtx["source"].(string)

	ic.logger.Info("intercepted tool call", "tool", toolName, "session_id", sessionID)

	ic.sessions.AppendToolCall(sessionID, toolName, args)
	if toolName == ic.fileReaderTool {
		ic.sessions.UpdateTaint(sessionID, firstStringArg(args))
	}

	assessment := ic.judge.Assess(ctx, toolName, args, callCtx)
	ic.logger.Info("risk judge assessment", "tool", toolName, "risk_score", assessment.RiskScore, "reason", assessment.Reason)

	accumulatedRisk := ic.sessions.AccumulateRisk(sessionID, assessment.RiskScore)

	input := policy.CallInput{
		ToolName:        toolName,
		Args:            args,
		UserID:          stringOr(callCtx["user_id"], defaultUserID),
		UserRole:        stringOr(callCtx["user_role"], defaultUserRole),
		IsTainted:       ic.sessions.IsTainted(sessionID),
		IsSuspicious:    policy.IsSuspiciousQuery(args),
		AccumulatedRisk: accumulatedRisk,
		Source:          callerSource,
		RiskScore:       assessment.RiskScore,
		Confidence:      assessment.Confidence,
		ToolCategory:    ic.toolCategoryOf(toolName),
		RawContext:      callCtx,
	}
	decision := ic.policy.Evaluate(input)
	ic.logger.Info("policy decision", "route", decision.Route, "rule_id", decision.RuleID, "reason", decision.Reason)

	riskHistoryLen := len(ic.sessions.GetRiskHistory(sessionID))

	if decision.Route == policy.RouteDeny {
		reply := denialReply(msg["id"], decision.Reason)
		ic.ledger.LogEvent(sessionID, "denial", toolName, "deny",
			ledger.Outcome{RoutedTo: policy.RouteDeny, Reason: decision.Reason, RuleID: decision.RuleID},
			accumulatedRisk, riskHistoryLen)
		out, err := json.Marshal(reply)
		if err != nil {
			ic.logger.Error("failed to marshal denial reply", "error", err)
		}
		return Outcome{Message: string(out), Route: policy.RouteDeny, Block: true}
	}

	token, err := ic.authority.IssueWarrant(sessionID, accumulatedRisk, decision.Route)
	if err != nil {
		ic.logger.Error("warrant issuance failed", "error", err)
		reply := denialReply(msg["id"], "warrant authority unavailable")
		out, _ := json.Marshal(reply)
		return Outcome{Message: string(out), Route: policy.RouteDeny, Block: true}
	}
	params[warrantParamsKey] = token
	msg["params"] = params

	ic.ledger.LogEvent(sessionID, "tool_call", toolName, decision.Route,
		ledger.Outcome{RoutedTo: decision.Route, Reason: decision.Reason, RuleID: decision.RuleID},
		accumulatedRisk, riskHistoryLen)

	rewritten, err := json.Marshal(msg)
	if err != nil {
		ic.logger.Error("failed to marshal rewritten message", "error", err)
		return Outcome{Message: raw, Route: policy.RouteProduction}
	}
	return Outcome{Message: string(rewritten), Route: decision.Route}
}

// extractContext forwards the caller's full params.context object — every
// recognized field (user_id, user_role, session_id, ip, geo, source) and
// every free-form annotation (ticket, device, schedule, override, mfa, or
// anything else a manifest rule might key on) — filling in only the
// identity/session fields that are missing, through the same fallback
// chain as the original interceptor.
func (ic *Interceptor) extractContext(msg map[string]any, params map[string]any) map[string]any {
	meta, _ := params["context"].(map[string]any)
	out := make(map[string]any, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}

	sessionID := stringOr(out["session_id"], "")
	if sessionID == "" {
		sessionID = stringOr(msg["session_id"], session.DefaultSessionID)
	}
	out["session_id"] = sessionID
	out["user_id"] = stringOr(out["user_id"], defaultUserID)
	out["user_role"] = stringOr(out["user_role"], defaultUserRole)

	return out
}

func (ic *Interceptor) toolCategoryOf(tool string) string {
	if cat, ok := ic.toolCategories[tool]; ok {
		return cat
	}
	return "safe"
}

func denialReply(id any, reason string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    -32000,
			"message": reason,
		},
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	if v != nil {
		return fmt.Sprintf("%v", v)
	}
	return fallback
}

func firstStringArg(args map[string]any) string {
	for _, key := range []string{"filename", "path", "file_path"} {
		if s, ok := args[key].(string); ok {
			return s
		}
	}
	for _, v := range args {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
