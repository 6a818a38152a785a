package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/risk"
	"github.com/cryptoc/txguard/internal/simulation"
	"github.com/cryptoc/txguard/internal/validation"
)

const (
	maxListLimit    = 500
	maxDetailsLen   = 2000
	maxActionLen    = 64
	defaultTxLimit  = 50
	defaultLogLimit = 100
)

// Handler provides HTTP endpoints for wallet operations
type Handler struct {
	ledger *Ledger
	sim    *simulation.Simulator
	logger *slog.Logger
}

// NewHandler creates a wallet handler. sim backs POST /wallet/execute.
func NewHandler(ledger *Ledger, sim *simulation.Simulator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: ledger, sim: sim, logger: logger}
}

// RegisterRoutes sets up wallet routes
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	w := r.Group("/wallet")
	w.POST("/create", h.Create)
	w.POST("/swap", h.Swap)
	w.POST("/execute", h.Execute)
	w.POST("/log", h.AddLog)
	w.POST("/approvals/revoke", h.RevokeApproval)

	q := w.Group("", validation.AddressQueryMiddleware())
	q.GET("/balances", h.GetBalances)
	q.GET("/transactions", h.GetTransactions)
	q.GET("/logs", h.GetLogs)
	q.GET("/approvals", h.GetApprovals)
	q.GET("/stats", h.GetStats)
}

func queryAddress(c *gin.Context) common.Address {
	return c.MustGet("address").(common.Address)
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func badRequest(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   errs.Code(),
		"message": errs.Error(),
		"field":   errs[0].Field,
	})
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

// fail maps ledger errors onto responses. Storage failures get a generic
// message; the detail is logged.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "insufficient_balance", "message": "Insufficient balance"})
	case errors.Is(err, ErrUnknownToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_token", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrApprovalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "approval_not_found", "message": "No active approval for that token and spender"})
	case errors.Is(err, ErrUnsupportedEffect):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported_effect", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("wallet operation failed", "op", op, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Wallet operation failed"})
	}
}

// CreateRequest for POST /wallet/create
type CreateRequest struct {
	Address string `json:"address"`
}

// Create handles POST /wallet/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		badRequest(c, errs)
		return
	}
	addr, _ := validation.NormalizeAddress(req.Address)

	if err := h.ledger.EnsureWallet(c.Request.Context(), addr); err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "address": addr.Hex()})
}

// GetBalances handles GET /wallet/balances
func (h *Handler) GetBalances(c *gin.Context) {
	balances, err := h.ledger.Balances(c.Request.Context(), queryAddress(c))
	if err != nil {
		h.fail(c, "balances", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// SwapBody for POST /wallet/swap. amountFrom is accepted as an alias of
// amount.
type SwapBody struct {
	Address    string           `json:"address"`
	FromToken  string           `json:"fromToken"`
	ToToken    string           `json:"toToken"`
	Amount     *decimal.Decimal `json:"amount"`
	AmountFrom *decimal.Decimal `json:"amountFrom"`
	AmountTo   *decimal.Decimal `json:"amountTo"`
}

// Swap handles POST /wallet/swap
func (h *Handler) Swap(c *gin.Context) {
	var body SwapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	amount := body.Amount
	if amount == nil {
		amount = body.AmountFrom
	}

	errs := validation.Validate(
		validation.Required("address", body.Address),
		validation.ValidAddress("address", body.Address),
		validation.Required("fromToken", body.FromToken),
		validation.Required("toToken", body.ToToken),
		validation.Amount("amount", amount),
	)
	if body.AmountTo != nil {
		errs = append(errs, validation.Validate(validation.Amount("amountTo", body.AmountTo))...)
	}
	if len(errs) > 0 {
		badRequest(c, errs)
		return
	}
	addr, _ := validation.NormalizeAddress(body.Address)

	req := SwapRequest{
		Address:   addr,
		FromToken: body.FromToken,
		ToToken:   body.ToToken,
		Amount:    *amount,
	}
	if body.AmountTo != nil {
		req.AmountTo = *body.AmountTo
	}

	res, err := h.ledger.Swap(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "swap", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balances": res.Balances, "txId": res.TxID})
}

// ExecuteBody for POST /wallet/execute: a simulate body plus consent.
type ExecuteBody struct {
	simulation.RawRequest
	AcknowledgeRisk bool `json:"acknowledgeRisk"`
}

// Execute handles POST /wallet/execute. The transaction is simulated and
// its effects applied to the sender's wallet. Risky or uninterpretable
// transactions need acknowledgeRisk; without it the attempt is logged as
// rejected and nothing moves. Acknowledged unknown calls apply their
// interpretable effects only.
func (h *Handler) Execute(c *gin.Context) {
	ctx := c.Request.Context()

	var body ExecuteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		if errors.Is(err, simulation.ErrInvalidValue) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value", "message": err.Error()})
			return
		}
		invalidBody(c)
		return
	}

	res, err := h.sim.Simulate(ctx, body.RawRequest)
	if err != nil {
		status, resp := simulation.ErrorBody(err)
		c.JSON(status, resp)
		return
	}

	a := res.Assessment
	from := res.Request.From

	if res.RequiresAcknowledgement() && !body.AcknowledgeRisk {
		details := "Rejected " + res.Call.Function + " to " + res.Request.To.Hex()
		if _, err := h.ledger.RecordActivity(ctx, from, ActionTransactionRejected, details, a.Level); err != nil {
			h.fail(c, "execute", err)
			return
		}
		out := simulation.ResultBody(res)
		out["success"] = false
		out["error"] = "risk_not_acknowledged"
		out["message"] = "Transaction requires acknowledgeRisk"
		c.JSON(http.StatusOK, out)
		return
	}

	applied, err := h.ledger.ApplyEffects(ctx, from, applicable(res.Effects()), Meta{
		Kind:         KindExecute,
		Function:     res.Call.Function,
		Counterparty: res.Request.To.Hex(),
		RiskLevel:    a.Level,
		RiskScore:    a.Score,
	})
	if err != nil {
		h.fail(c, "execute", err)
		return
	}

	out := simulation.ResultBody(res)
	out["txId"] = applied.TxID
	out["balances"] = applied.Balances
	c.JSON(http.StatusOK, out)
}

func applicable(effs []effects.Effect) []effects.Effect {
	out := make([]effects.Effect, 0, len(effs))
	for _, e := range effs {
		if _, ok := e.(*effects.Unknown); !ok {
			out = append(out, e)
		}
	}
	return out
}

// GetTransactions handles GET /wallet/transactions
func (h *Handler) GetTransactions(c *gin.Context) {
	txs, err := h.ledger.Transactions(c.Request.Context(), queryAddress(c), queryLimit(c, defaultTxLimit))
	if err != nil {
		h.fail(c, "transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetLogs handles GET /wallet/logs
func (h *Handler) GetLogs(c *gin.Context) {
	logs, err := h.ledger.Logs(c.Request.Context(), queryAddress(c), queryLimit(c, defaultLogLimit))
	if err != nil {
		h.fail(c, "logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// LogBody for POST /wallet/log
type LogBody struct {
	Address   string `json:"address"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	RiskLevel string `json:"riskLevel"`
}

// AddLog handles POST /wallet/log
func (h *Handler) AddLog(c *gin.Context) {
	var body LogBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("address", body.Address),
		validation.ValidAddress("address", body.Address),
		validation.Required("action", body.Action),
		validation.MaxLength("action", body.Action, maxActionLen),
	); len(errs) > 0 {
		badRequest(c, errs)
		return
	}
	addr, _ := validation.NormalizeAddress(body.Address)
	details := validation.SanitizeString(body.Details, maxDetailsLen)

	id, err := h.ledger.RecordActivity(c.Request.Context(), addr, body.Action, details, risk.Level(body.RiskLevel))
	if err != nil {
		h.fail(c, "log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logId": id})
}

// GetStats handles GET /wallet/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context(), queryAddress(c))
	if err != nil {
		h.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetApprovals handles GET /wallet/approvals
func (h *Handler) GetApprovals(c *gin.Context) {
	approvals, err := h.ledger.Approvals(c.Request.Context(), queryAddress(c))
	if err != nil {
		h.fail(c, "approvals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// RevokeBody for POST /wallet/approvals/revoke. token is a symbol or a
// contract address.
type RevokeBody struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
}

// RevokeApproval handles POST /wallet/approvals/revoke
func (h *Handler) RevokeApproval(c *gin.Context) {
	var body RevokeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("address", body.Address),
		validation.ValidAddress("address", body.Address),
		validation.Required("token", body.Token),
		validation.Required("spender", body.Spender),
		validation.ValidAddress("spender", body.Spender),
	); len(errs) > 0 {
		badRequest(c, errs)
		return
	}
	addr, _ := validation.NormalizeAddress(body.Address)
	spender, _ := validation.NormalizeAddress(body.Spender)

	if err := h.ledger.RevokeApproval(c.Request.Context(), addr, body.Token, spender); err != nil {
		h.fail(c, "revoke_approval", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
