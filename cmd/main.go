package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/nndrao/stern-sub001/internal/app"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	a.Log.Info("Server listening", "addr", a.Cfg.Addr)
	if err := a.Run(a.Cfg.Addr); err != nil {
		a.Log.Error("Server failed", "error", err)
	}
}
