package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the txguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSimulateTransaction = mcp.NewTool("simulate_transaction",
	mcp.WithDescription(
		"Simulate an Ethereum transaction before signing it. "+
			"Decodes the calldata, predicts token transfers and approvals, and returns a risk score "+
			"(0-100) with a level of safe, warning or danger. Use this before approving any wallet prompt."),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Contract or recipient address (e.g. '0xA0b8...')")),
	mcp.WithString("from",
		mcp.Description("Sender address. Defaults to the configured wallet address.")),
	mcp.WithString("value",
		mcp.Description("Native value in wei, decimal or 0x-hex (e.g. '1000000000000000000')")),
	mcp.WithString("data",
		mcp.Description("Hex-encoded calldata (e.g. '0x095ea7b3...'). Omit for a plain transfer.")),
)

var ToolCheckURL = mcp.NewTool("check_url",
	mcp.WithDescription(
		"Check whether a URL looks like a phishing site. "+
			"Returns benign or malicious with a confidence and the model that answered."),
	mcp.WithString("url",
		mcp.Required(),
		mcp.Description("The full URL to check (e.g. 'https://app.uniswap.org')")),
)

var ToolWalletBalances = mcp.NewTool("wallet_balances",
	mcp.WithDescription(
		"Show the simulated wallet's token balances and its active token approvals."),
	mcp.WithString("address",
		mcp.Description("Wallet address. Defaults to the configured wallet address.")),
)

var ToolWalletActivity = mcp.NewTool("wallet_activity",
	mcp.WithDescription(
		"Show the simulated wallet's recent activity log and how many threats were blocked."),
	mcp.WithString("address",
		mcp.Description("Wallet address. Defaults to the configured wallet address.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of log entries to return (default 20)")),
)
