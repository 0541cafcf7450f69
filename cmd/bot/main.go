package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gymkhana-bot/internal/bootstrap"
	"gymkhana-bot/internal/config"
	"gymkhana-bot/internal/delivery"
	"gymkhana-bot/internal/queue"
	"gymkhana-bot/internal/reports"
	"gymkhana-bot/internal/scheduler"
	"gymkhana-bot/internal/server"
	"gymkhana-bot/internal/tgbot"
)

const sessionSweepInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer env.Close()

	bot, err := tgbot.NewBot(cfg)
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}

	sender, err := delivery.NewSender(cfg, bot)
	if err != nil {
		log.Fatalf("delivery: %v", err)
	}
	env.Queue.Register(queue.KindDeliverMessage, queue.NewDeliverHandler(sender, env.Store))
	log.Printf("delivery provider: %s", sender.Name())

	sessions, err := tgbot.NewSessionStore(cfg.SessionStore, env.Store, env.Clock, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
	reportService := reports.NewService(env.Store, env.Queue, cfg.AdminIDs())
	engine := tgbot.NewEngine(env.Store, reportService, sessions, cfg.AdminContact)
	botApp := tgbot.New(bot, engine)

	httpSrv := server.New(cfg, env.Store, env.Queue)
	sched := scheduler.New(env.Store, env.Queue, env.Clock, cfg.RefreshInterval)

	// Start HTTP server
	go func() {
		log.Printf("HTTP listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
				cancel()
			}
		}()
	}

	run("bot", botApp.Run)
	run("queue", func(ctx context.Context) error {
		return env.Queue.Run(ctx, cfg.WorkerCount, cfg.QueuePollInterval)
	})
	run("scheduler", sched.Run)
	run("sessions", func(ctx context.Context) error {
		scheduler.Every(ctx, env.Clock, sessionSweepInterval, func(ctx context.Context) {
			n, err := sessions.Sweep(ctx)
			if err != nil {
				log.Printf("sessions: sweep: %v", err)
				return
			}
			if n > 0 {
				log.Printf("sessions: dropped %d idle sessions", n)
			}
		})
		return nil
	})

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down...")

	cancel()
	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)
	wg.Wait()

	log.Println("bye")
}
