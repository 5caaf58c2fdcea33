// Package policy is the journal-backed rate limiter and audit trail,
// reworked over a gorm events table
// instead of an in-process asyncio lock plus SQLAlchemy session.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"vaultcore/internal/models"
	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

// RedactedMarker replaces secret call arguments and results — private
// keys, passphrases, confirmation codes — before they reach the
// journal; the journal then stores the digest of the payload carrying
// the marker, never a digest of the secret itself.
const RedactedMarker = "[redacted]"

// Engine enforces per-tool, per-agent rate limits against the journal
// of past events and records every gated call outcome to that same
// journal.
type Engine struct {
	db  *gorm.DB
	cfg *vaultconfig.Config
}

// New builds an Engine over db, migrating the events table if needed.
func New(db *gorm.DB, cfg *vaultconfig.Config) (*Engine, error) {
	if err := db.AutoMigrate(&models.Event{}); err != nil {
		return nil, err
	}
	return &Engine{db: db, cfg: cfg}, nil
}

// Enforce checks tool/agentID against the configured rate limit rule
// by counting matching events recorded within the rule's window. A
// tool call with no agent identity is never rate limited — only
// per-agent traffic is throttled.
func (e *Engine) Enforce(toolName, agentID string) error {
	if agentID == "" {
		return nil
	}
	rule := e.cfg.RuleFor(toolName, agentID)
	if rule.MaxCalls <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-rule.Window)
	var count int64
	err := e.db.Model(&models.Event{}).
		Where("tool_name = ? AND agent_id = ? AND occurred_at >= ?", toolName, agentID, cutoff).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(rule.MaxCalls) {
		return vaulterr.New(vaulterr.RateLimited, toolName)
	}
	return nil
}

// RecordEvent journals the outcome of one tool call. Request and
// response payloads are digested (never stored verbatim) so the
// journal can be inspected for auditing without becoming a second
// copy of sensitive call arguments — key material, passphrases, and
// confirmation codes never reach this layer since callers pass
// pre-redacted maps.
func (e *Engine) RecordEvent(toolName, agentID string, status models.EventStatus, request, response any, errKind string) error {
	event := models.Event{
		OccurredAt:     time.Now(),
		ToolName:       toolName,
		Status:         string(status),
		RequestDigest:  digest(request),
		ResponseDigest: digest(response),
	}
	if agentID != "" {
		event.AgentID = &agentID
	}
	if errKind != "" {
		event.ErrorKind = &errKind
	}
	return e.db.Create(&event).Error
}

// Run executes call under the enforce-then-journal wrapper: check the
// rate limit, invoke call, and record success or failure regardless of
// outcome.
func Run[T any](e *Engine, toolName, agentID string, request any, call func() (T, error)) (T, error) {
	var zero T
	if err := e.Enforce(toolName, agentID); err != nil {
		_ = e.RecordEvent(toolName, agentID, models.StatusDenied, request, nil, string(vaulterr.KindOf(err)))
		return zero, err
	}
	result, err := call()
	if err != nil {
		_ = e.RecordEvent(toolName, agentID, models.StatusError, request, nil, string(vaulterr.KindOf(err)))
		return zero, err
	}
	_ = e.RecordEvent(toolName, agentID, models.StatusOK, request, result, "")
	return result, nil
}

// RunRedacted behaves like Run except the journal records redact(result)
// in place of the raw result, for tool calls whose success payload
// carries secret material the caller receives but the audit trail
// must not retain in any recoverable form, not even as a digest.
func RunRedacted[T any](e *Engine, toolName, agentID string, request any, call func() (T, error), redact func(T) any) (T, error) {
	var zero T
	if err := e.Enforce(toolName, agentID); err != nil {
		_ = e.RecordEvent(toolName, agentID, models.StatusDenied, request, nil, string(vaulterr.KindOf(err)))
		return zero, err
	}
	result, err := call()
	if err != nil {
		_ = e.RecordEvent(toolName, agentID, models.StatusError, request, nil, string(vaulterr.KindOf(err)))
		return zero, err
	}
	_ = e.RecordEvent(toolName, agentID, models.StatusOK, request, redact(result), "")
	return result, nil
}

// digest reduces a request/response payload to a stable, non-reversible
// fingerprint for the audit log rather than storing raw call
// arguments, which may include amounts, addresses, or free-text
// messages the deployment doesn't want retained verbatim.
func digest(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
