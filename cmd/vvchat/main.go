package main

import (
	"log"

	"github.com/micksolo/VanishVoice-sub000/internal/chat"
)

func main() {
	cfg := chat.LoadConfig()
	app, err := chat.NewApp(cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	app.Start()
	chat.WaitForShutdown(app)
}
