// Package handlers implements the gin-based tool surface: one handler
// per wallet/strategy operation, each wrapped by the policy engine's
// enforce-then-journal cycle before it touches the wallet or strategy
// manager. Dependencies are passed by struct injection instead of a
// package-level DB global, so the deployment's Config is threaded
// through once at startup rather than read from globals mid-request.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vaultcore/internal/eventbus"
	"vaultcore/internal/policy"
	"vaultcore/internal/strategy"
	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/wallet"
)

// Deps bundles every dependency a handler needs. Constructed once in
// cmd/api/main.go and passed to every SetupXRoutes function.
type Deps struct {
	Wallet   *wallet.Manager
	Strategy *strategy.Manager
	Policy   *policy.Engine
	Events   *eventbus.Publisher
	Logger   *logrus.Logger
}

// agentIDFrom pulls the caller-declared agent identity from the
// request: query param, then path param, then header.
func agentIDFrom(c *gin.Context) string {
	if v := c.Query("agent_id"); v != "" {
		return v
	}
	if v := c.Param("agent_id"); v != "" {
		return v
	}
	return c.GetHeader("X-Agent-Id")
}

// runTool wraps handler execution in the policy engine's rate limit
// and journal cycle, then translates the result into a JSON response.
func runTool[T any](c *gin.Context, deps *Deps, toolName string, request any, call func() (T, error)) {
	agentID := agentIDFrom(c)
	result, err := policy.Run(deps.Policy, toolName, agentID, request, call)
	if err != nil {
		writeError(c, err)
		return
	}
	if deps.Events != nil {
		deps.Events.Publish(toolName, gin.H{"agent_id": agentID, "result": result})
	}
	c.JSON(http.StatusOK, result)
}

// runToolRedacted behaves like runTool, but the caller still receives
// the true result while the journal and event bus only ever see
// redact(result) — for tool calls whose success payload carries secret
// material, such as an exported private key.
func runToolRedacted[T any](c *gin.Context, deps *Deps, toolName string, request any, call func() (T, error), redact func(T) any) {
	agentID := agentIDFrom(c)
	result, err := policy.RunRedacted(deps.Policy, toolName, agentID, request, call, redact)
	if err != nil {
		writeError(c, err)
		return
	}
	if deps.Events != nil {
		deps.Events.Publish(toolName, gin.H{"agent_id": agentID, "result": redact(result)})
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps a vaulterr.Kind to the HTTP status a caller should
// see. Kinds not in the closed enum surface as 500s.
func writeError(c *gin.Context, err error) {
	kind := vaulterr.KindOf(err)
	status := statusForKind(kind)
	body := gin.H{"error": err.Error(), "kind": string(kind)}
	if kind == "" {
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func statusForKind(kind vaulterr.Kind) int {
	switch kind {
	case vaulterr.NotFound, vaulterr.StrategyNotFound:
		return http.StatusNotFound
	case vaulterr.AgentExists, vaulterr.AddressReuse, vaulterr.StrategyBadState:
		return http.StatusConflict
	case vaulterr.BadAddress, vaulterr.BadKey:
		return http.StatusBadRequest
	case vaulterr.DecryptFailed, vaulterr.ExportDenied:
		return http.StatusForbidden
	case vaulterr.RateLimited:
		return http.StatusTooManyRequests
	case vaulterr.ConfirmationRequired, vaulterr.ConfirmationMismatch:
		return http.StatusPreconditionRequired
	case vaulterr.InsufficientFunds:
		return http.StatusPaymentRequired
	case vaulterr.ChainUnreachable:
		return http.StatusBadGateway
	case vaulterr.RPCRejected, vaulterr.BroadcastAborted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
