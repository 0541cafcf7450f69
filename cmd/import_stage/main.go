package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"gymkhana-bot/internal/bootstrap"
	"gymkhana-bot/internal/config"
)

func main() {
	_ = godotenv.Load()

	id := flag.Int64("stage-id", 0, "Stage id on the results site")
	flag.Parse()
	if *id <= 0 {
		log.Fatal("--stage-id is required")
	}

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

	summary, err := env.Importer.ImportStage(ctx, *id)
	if err != nil {
		log.Fatalf("import stage %d: %v", *id, err)
	}
	fmt.Println(summary)
}
