package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"gymkhana-bot/internal/bootstrap"
	"gymkhana-bot/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	env, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer env.Close()

	report, err := env.Importer.RefreshAthletes(ctx)
	fmt.Println(report)
	if err != nil {
		log.Fatalf("refresh athletes: %v", err)
	}
}
