package simulation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cryptoc/txguard/internal/calldata"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/validation"
)

// Handler serves POST /simulate.
type Handler struct {
	sim    *Simulator
	logger *slog.Logger
}

// NewHandler creates a simulation handler
func NewHandler(sim *Simulator, logger *slog.Logger) *Handler {
	return &Handler{sim: sim, logger: logger}
}

// RegisterRoutes sets up simulation routes
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/simulate", h.Simulate)
}

// Simulate handles POST /simulate
func (h *Handler) Simulate(c *gin.Context) {
	var raw RawRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		if errors.Is(err, ErrInvalidValue) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value", "message": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}

	res, err := h.sim.Simulate(c.Request.Context(), raw)
	if err != nil {
		status, body := ErrorBody(err)
		logging.L(c.Request.Context()).Debug("simulation rejected", "error", err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, ResultBody(res))
}

// ResultBody renders a result in the wire shape shared by /simulate and the
// MCP tool.
func ResultBody(res *Result) gin.H {
	a := res.Assessment
	body := gin.H{
		"success":      true,
		"risk_level":   a.Level,
		"score":        a.Score,
		"warnings":     a.Warnings,
		"effects":      a.Effects,
		"factors":      a.Factors,
		"functionName": res.Call.Function,
		"arguments":    res.Call.Arguments,
	}
	if res.Call.HasSelector() {
		body["selector"] = res.Call.Selector.String()
	}
	if res.Preflight != nil {
		body["preflight"] = res.Preflight
	}
	return body
}

// ErrorBody maps a pipeline error onto a status and JSON body. Unexpected
// errors get a generic message.
func ErrorBody(err error) (int, gin.H) {
	var fe *FieldError
	field := ""
	if errors.As(err, &fe) {
		field = fe.Field
	}

	switch {
	case errors.Is(err, ErrMissingField):
		return http.StatusBadRequest, gin.H{"error": "missing_field", "message": field + " is required", "field": field}
	case errors.Is(err, validation.ErrInvalidAddress):
		return http.StatusBadRequest, gin.H{"error": "invalid_address", "message": field + " must be a valid address (0x + 40 hex chars)", "field": field}
	case errors.Is(err, calldata.ErrInvalidHex):
		return http.StatusBadRequest, gin.H{"error": "invalid_hex", "message": "data must be hex", "field": field}
	case errors.Is(err, calldata.ErrMalformedCalldata):
		return http.StatusBadRequest, gin.H{"error": "malformed_calldata", "message": err.Error(), "field": field}
	case errors.Is(err, ErrInvalidValue):
		return http.StatusBadRequest, gin.H{"error": "invalid_value", "message": field + " is not a valid quantity", "field": field}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Simulation failed"}
	}
}
