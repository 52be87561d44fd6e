package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/conf"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/data"
)

func main() {
	_ = godotenv.Load()

	cfg := conf.LoadFromEnv()
	if cfg.UltraMsg.InstanceID == "" || cfg.UltraMsg.Token == "" {
		fmt.Println("Error: ULTRAMSG_INSTANCE_ID and ULTRAMSG_TOKEN must be set")
		os.Exit(1)
	}

	if len(os.Args) < 3 {
		fmt.Println("Usage: send-message <number> <message>")
		os.Exit(1)
	}

	to := os.Args[1]
	body := os.Args[2]

	messenger := data.NewUltraMsgRepo(cfg.UltraMsg)
	id, err := messenger.SendText(context.Background(), to, body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Message sent successfully (id=%s)\n", id)
}
