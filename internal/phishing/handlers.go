package phishing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/validation"
)

const maxURLLength = 2048

// Handler serves POST /predict.
type Handler struct {
	chain  *Chain
	logger *slog.Logger
}

// NewHandler creates a classifier handler
func NewHandler(chain *Chain, logger *slog.Logger) *Handler {
	return &Handler{chain: chain, logger: logger}
}

// RegisterRoutes sets up classifier routes
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/predict", h.Predict)
}

// PredictRequest for POST /predict
type PredictRequest struct {
	URL string `json:"url"`
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, maxURLLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.Code(), "message": errs.Error()})
		return
	}

	v, err := h.chain.Classify(c.Request.Context(), req.URL)
	if err != nil {
		if !errors.Is(err, ErrNoClassifier) {
			logging.L(c.Request.Context()).Error("url classification failed", "error", err)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "classifier_unavailable",
			"message": "No URL classifier is available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        req.URL,
		"prediction": v.Label,
		"is_safe":    v.Safe(),
		"confidence": v.Confidence,
		"risk_score": v.RiskScore,
		"model_used": v.Model,
	})
}
