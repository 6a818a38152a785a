package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// address returns the explicit argument or the configured wallet.
func (h *Handlers) address(req mcp.CallToolRequest, key string) string {
	if v := req.GetString(key, ""); v != "" {
		return v
	}
	return h.client.cfg.Address
}

// HandleSimulateTransaction scores a proposed transaction.
func (h *Handlers) HandleSimulateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}
	from := h.address(req, "from")
	if from == "" {
		return mcp.NewToolResultError("from is required (no default wallet address configured)"), nil
	}

	raw, err := h.client.Simulate(ctx, SimulateParams{
		From:  from,
		To:    to,
		Value: req.GetString("value", ""),
		Data:  req.GetString("data", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Simulation failed: %v", err)), nil
	}

	text, err := formatSimulation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse simulation: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckURL classifies a URL.
func (h *Handlers) HandleCheckURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := req.GetString("url", "")
	if target == "" {
		return mcp.NewToolResultError("url is required"), nil
	}

	raw, err := h.client.CheckURL(ctx, target)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("URL check failed: %v", err)), nil
	}

	text, err := formatVerdict(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleWalletBalances shows balances and active approvals.
func (h *Handlers) HandleWalletBalances(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := h.address(req, "address")
	if addr == "" {
		return mcp.NewToolResultError("address is required (no default wallet address configured)"), nil
	}

	balRaw, err := h.client.Balances(ctx, addr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get balances: %v", err)), nil
	}

	var sb strings.Builder
	if err := writeBalances(&sb, addr, balRaw); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balances: %v", err)), nil
	}

	// approvals are best effort; balances alone are still useful
	apRaw, err := h.client.Approvals(ctx, addr)
	if err != nil {
		fmt.Fprintf(&sb, "\nApprovals: unavailable (%v)\n", err)
	} else if err := writeApprovals(&sb, apRaw); err != nil {
		fmt.Fprintf(&sb, "\nApprovals: unreadable (%v)\n", err)
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleWalletActivity shows recent log entries and counters.
func (h *Handlers) HandleWalletActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := h.address(req, "address")
	if addr == "" {
		return mcp.NewToolResultError("address is required (no default wallet address configured)"), nil
	}
	limit := req.GetInt("limit", 20)

	statsRaw, err := h.client.Stats(ctx, addr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}
	logsRaw, err := h.client.Logs(ctx, addr, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get activity: %v", err)), nil
	}

	text, err := formatActivity(statsRaw, logsRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse activity: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type simulationResult struct {
	RiskLevel    string           `json:"risk_level"`
	Score        int              `json:"score"`
	Warnings     []string         `json:"warnings"`
	Effects      []map[string]any `json:"effects"`
	FunctionName string           `json:"functionName"`
	Selector     string           `json:"selector"`
	Preflight    *struct {
		Reverts bool   `json:"reverts"`
		Reason  string `json:"reason"`
	} `json:"preflight"`
}

func formatSimulation(raw json.RawMessage) (string, error) {
	var res simulationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", err
	}
	if res.RiskLevel == "" {
		return "", fmt.Errorf("unexpected simulation response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk: %s (score %d/100)\n", strings.ToUpper(res.RiskLevel), res.Score)
	if res.Selector != "" {
		fmt.Fprintf(&sb, "Function: %s (%s)\n", res.FunctionName, res.Selector)
	} else {
		fmt.Fprintf(&sb, "Function: %s\n", res.FunctionName)
	}

	if len(res.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", w)
		}
	}

	if len(res.Effects) > 0 {
		sb.WriteString("\nPredicted effects:\n")
		for i, e := range res.Effects {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, describeEffect(e))
		}
	}

	if res.Preflight != nil && res.Preflight.Reverts {
		fmt.Fprintf(&sb, "\nNote: the call reverts against current chain state (%s).\n", res.Preflight.Reason)
	}

	if res.RiskLevel != "safe" {
		sb.WriteString("\nDo not sign unless you trust the contract and the spender.")
	}
	return sb.String(), nil
}

func tokenLabel(m map[string]any, key string) string {
	tok, _ := m[key].(map[string]any)
	if tok == nil {
		return "?"
	}
	if s := getString(tok, "symbol"); s != "" {
		return s
	}
	return getString(tok, "address")
}

func describeEffect(e map[string]any) string {
	switch getString(e, "type") {
	case "transfer":
		amount := getString(e, "formatted")
		if id := getString(e, "tokenId"); id != "" {
			amount = "#" + id
		}
		return fmt.Sprintf("send %s %s to %s", amount, tokenLabel(e, "token"), getString(e, "to"))
	case "approve":
		amount := getString(e, "amount")
		if b, _ := e["unlimited"].(bool); b {
			amount = "UNLIMITED"
		}
		return fmt.Sprintf("approve %s %s for %s", amount, tokenLabel(e, "token"), getString(e, "spender"))
	case "approveAll":
		verb := "revoke"
		if b, _ := e["approved"].(bool); b {
			verb = "grant"
		}
		return fmt.Sprintf("%s control of ALL %s to %s", verb, tokenLabel(e, "collection"), getString(e, "operator"))
	case "unknown":
		return fmt.Sprintf("unrecognized call %s on %s", getString(e, "selector"), getString(e, "contract"))
	default:
		data, _ := json.Marshal(e)
		return string(data)
	}
}

func formatVerdict(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	prediction := getString(m, "prediction")
	if prediction == "" {
		return "", fmt.Errorf("unexpected verdict response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", getString(m, "url"))
	fmt.Fprintf(&sb, "Verdict: %s\n", prediction)
	if v, ok := getFloat(m, "confidence"); ok {
		fmt.Fprintf(&sb, "Confidence: %.0f%%\n", v*100)
	}
	if v, ok := getFloat(m, "risk_score"); ok {
		fmt.Fprintf(&sb, "Risk score: %.0f/100\n", v)
	}
	if v := getString(m, "model_used"); v != "" {
		fmt.Fprintf(&sb, "Model: %s\n", v)
	}
	if safe, _ := m["is_safe"].(bool); !safe {
		sb.WriteString("\nDo not enter credentials or connect a wallet on this site.")
	}
	return sb.String(), nil
}

func writeBalances(sb *strings.Builder, addr string, raw json.RawMessage) error {
	var resp struct {
		Balances map[string]string `json:"balances"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}

	fmt.Fprintf(sb, "Balances for %s:\n", addr)
	if len(resp.Balances) == 0 {
		sb.WriteString("  (none)\n")
		return nil
	}
	symbols := make([]string, 0, len(resp.Balances))
	for sym := range resp.Balances {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(sb, "  %-6s %s\n", sym, resp.Balances[sym])
	}
	return nil
}

func writeApprovals(sb *strings.Builder, raw json.RawMessage) error {
	var resp struct {
		Approvals []map[string]any `json:"approvals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}

	if len(resp.Approvals) == 0 {
		sb.WriteString("\nNo active approvals.\n")
		return nil
	}
	fmt.Fprintf(sb, "\nActive approvals (%d):\n", len(resp.Approvals))
	for _, a := range resp.Approvals {
		amount := getString(a, "amount")
		if b, _ := a["unlimited"].(bool); b {
			amount = "unlimited"
		}
		fmt.Fprintf(sb, "  - %s %s -> %s\n", getString(a, "token"), amount, getString(a, "spender"))
	}
	return nil
}

func formatActivity(statsRaw, logsRaw json.RawMessage) (string, error) {
	var stats map[string]any
	if err := json.Unmarshal(statsRaw, &stats); err != nil {
		return "", err
	}
	var logs struct {
		Logs []map[string]any `json:"logs"`
	}
	if err := json.Unmarshal(logsRaw, &logs); err != nil {
		return "", err
	}

	var sb strings.Builder
	total, _ := getFloat(stats, "totalTransactions")
	blocked, _ := getFloat(stats, "threatsBlocked")
	fmt.Fprintf(&sb, "Transactions: %.0f | Threats blocked: %.0f\n", total, blocked)

	if len(logs.Logs) == 0 {
		sb.WriteString("\nNo activity yet.")
		return sb.String(), nil
	}
	sb.WriteString("\nRecent activity:\n")
	for _, l := range logs.Logs {
		fmt.Fprintf(&sb, "  [%s] %s %s: %s\n",
			getString(l, "severity"), getString(l, "timestamp"), getString(l, "action"), getString(l, "details"))
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
