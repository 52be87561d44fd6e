package main

import (
	"context"
	"fmt"
	"os"

	"github.com/operatorhq/whatsapp-hitl-bridge/mcpserver"
)

func main() {
	apiBaseURL := os.Getenv("BRIDGE_API_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://127.0.0.1:8080"
	}

	server := mcpserver.NewServer(apiBaseURL)
	if err := server.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
