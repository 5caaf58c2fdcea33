package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vaultcore/internal/models"
	"vaultcore/internal/strategy"
)

type createStrategyRequest struct {
	Label           string  `json:"label" binding:"required"`
	TenantID        string  `json:"tenant_id"`
	AgentID         string  `json:"agent_id" binding:"required"`
	ToAddress       string  `json:"to_address" binding:"required"`
	AmountNative    string  `json:"amount_native" binding:"required"`
	IntervalSeconds int64   `json:"interval_seconds" binding:"required"`
	MaxBaseFeeGwei  *string `json:"max_base_fee_gwei"`
	DailyCapNative  *string `json:"daily_cap_native"`
	ConfirmationCode *string `json:"confirmation_code"`
}

// CreateStrategy handles POST /strategies.
func CreateStrategy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createStrategyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "create_strategy", gin.H{"label": req.Label, "agent_id": req.AgentID}, func() (*models.Strategy, error) {
			return deps.Strategy.Create(strategy.CreateParams{
				Label:           req.Label,
				TenantID:        req.TenantID,
				AgentID:         req.AgentID,
				ToAddress:       req.ToAddress,
				AmountNative:    req.AmountNative,
				IntervalSeconds: req.IntervalSeconds,
				MaxBaseFeeGwei:  req.MaxBaseFeeGwei,
				DailyCapNative:  req.DailyCapNative,
				ConfirmationCode: req.ConfirmationCode,
			})
		})
	}
}

// StartStrategy handles POST /strategies/:label/start.
func StartStrategy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := c.Param("label")
		runTool(c, deps, "start_strategy", gin.H{"label": label}, func() (*models.Strategy, error) {
			return deps.Strategy.Start(label)
		})
	}
}

// StopStrategy handles POST /strategies/:label/stop.
func StopStrategy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := c.Param("label")
		runTool(c, deps, "stop_strategy", gin.H{"label": label}, func() (*models.Strategy, error) {
			return deps.Strategy.Stop(label)
		})
	}
}

// DeleteStrategy handles DELETE /strategies/:label.
func DeleteStrategy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := c.Param("label")
		runTool(c, deps, "delete_strategy", gin.H{"label": label}, func() (gin.H, error) {
			if err := deps.Strategy.Delete(label); err != nil {
				return nil, err
			}
			return gin.H{"deleted": label}, nil
		})
	}
}

// StrategyStatus handles GET /strategies/:label.
func StrategyStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := c.Param("label")
		runTool(c, deps, "strategy_status", gin.H{"label": label}, func() (*models.Strategy, error) {
			return deps.Strategy.Status(label)
		})
	}
}

// ListStrategies handles GET /strategies.
func ListStrategies(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Query("agent_id")
		runTool(c, deps, "list_strategies", gin.H{"agent_id": agentID}, func() ([]models.Strategy, error) {
			return deps.Strategy.List(agentID)
		})
	}
}

type tickStrategyRequest struct {
	DryRun           bool       `json:"dry_run"`
	ConfirmationCode string     `json:"confirmation_code"`
	At               *time.Time `json:"at"`
}

// TickStrategy handles POST /strategies/:label/tick. At lets a caller
// drive the schedule against a specific point in time instead of the
// server's wall clock, e.g. to replay a sequence of ticks
// deterministically; it defaults to time.Now() when omitted.
func TickStrategy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := c.Param("label")
		var req tickStrategyRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		now := time.Now()
		if req.At != nil {
			now = *req.At
		}
		runTool(c, deps, "tick_strategy", gin.H{"label": label, "dry_run": req.DryRun}, func() (*strategy.TickOutcome, error) {
			return deps.Strategy.Tick(c.Request.Context(), label, now, req.DryRun, req.ConfirmationCode)
		})
	}
}
