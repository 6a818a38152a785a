// Command mcp exposes the txguard API as MCP tools over stdio.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cryptoc/txguard/internal/mcpserver"
	"github.com/cryptoc/txguard/internal/validation"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("TXGUARD_API_URL", "http://localhost:8080"),
		Address: os.Getenv("TXGUARD_WALLET_ADDRESS"),
		Timeout: 30 * time.Second,
	}

	if cfg.Address != "" {
		addr, err := validation.ChecksumAddress(cfg.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "TXGUARD_WALLET_ADDRESS: %v\n", err)
			os.Exit(1)
		}
		cfg.Address = addr
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
