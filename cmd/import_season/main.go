package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"gymkhana-bot/internal/bootstrap"
	"gymkhana-bot/internal/config"
)

func main() {
	_ = godotenv.Load()

	var (
		champType = flag.String("type", "gp", "Championship type on the results site")
		years     = flag.String("years", "", "Year or year range, e.g. 2024 or 2023-2024")
	)
	flag.Parse()

	from, to, err := parseYears(*years)
	if err != nil {
		log.Fatal(err)
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

	report, err := env.Importer.ImportSeason(ctx, strings.TrimSpace(*champType), from, to)
	fmt.Println(report)
	if err != nil {
		log.Fatalf("import season: %v", err)
	}
	if report.Failed > 0 {
		log.Fatalf("import season: %d stages failed", report.Failed)
	}
}

// parseYears reads "2024" or "2023-2024".
func parseYears(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("--years is required")
	}
	lo, hi, isRange := strings.Cut(s, "-")
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --years value %q", s)
	}
	to := from
	if isRange {
		if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("invalid --years value %q", s)
		}
	}
	if to < from {
		return 0, 0, fmt.Errorf("--years range %q is reversed", s)
	}
	return from, to, nil
}
