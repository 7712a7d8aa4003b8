package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"zombidef.ai/internal/client"
	"zombidef.ai/internal/config"
	"zombidef.ai/internal/game/engine"
	"zombidef.ai/internal/persistence/indexdb"
	"zombidef.ai/internal/persistence/state"
	"zombidef.ai/internal/persistence/turnlog"
	"zombidef.ai/internal/ratelimit"
	"zombidef.ai/internal/scheduler"
	"zombidef.ai/internal/transport/status"
)

func main() {
	if len(os.Args) != 2 || strings.TrimSpace(os.Args[1]) == "" {
		fmt.Fprintln(os.Stderr, "usage: bot <token>")
		os.Exit(2)
	}
	token := strings.TrimSpace(os.Args[1])

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	cfgPath, explicit := os.LookupEnv("ZD_CONFIG")
	if !explicit {
		cfgPath = "./configs/bot.yaml"
	}
	cfg, err := config.Load(cfgPath, !explicit)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("server=%s game=%s data=%s", cfg.BaseURL, cfg.Game, cfg.DataDir)

	st, err := state.Open(cfg.StateFile)
	if err != nil {
		logger.Printf("state: %v; starting with empty state", err)
	}
	logger.Printf("persisted round=%q", st.Get().CurrentRound)

	var recs scheduler.Recorders
	var opts []scheduler.Option
	if cfg.Recording.TurnLog {
		tl := turnlog.NewLogger(cfg.TurnLogDir(), logger)
		defer tl.Close()
		recs = append(recs, tl)
		keep := cfg.Recording.KeepTurnLogs
		opts = append(opts, scheduler.WithCycleHook(func() {
			if n, err := tl.Prune(keep); err != nil {
				logger.Printf("prune turn logs: %v", err)
			} else if n > 0 {
				logger.Printf("pruned %d old turn logs", n)
			}
		}))
	}
	var idx *indexdb.SQLiteIndex
	if cfg.Recording.IndexDB {
		idx, err = indexdb.OpenSQLite(cfg.IndexDBPath(), logger)
		if err != nil {
			logger.Printf("index db disabled: %v", err)
		} else {
			defer idx.Close()
			recs = append(recs, idx)
		}
	}
	var hub *status.Hub
	if cfg.Status.Listen != "" {
		hub = status.NewHub(logger)
		recs = append(recs, hub)
	}

	api, err := client.New(client.Config{
		BaseURL: cfg.BaseURL,
		Game:    cfg.Game,
		Token:   token,
		Timeout: cfg.HTTPTimeout(),
		Limiter: ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window()),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("client: %v", err)
	}

	sc := cfg.Scheduler
	sched := scheduler.New(scheduler.Config{
		JoinWindow:       sc.JoinWindow(),
		JoinBackoff:      sc.JoinBackoff(),
		IdleWait:         sc.IdleWait(),
		FetchRetryDelay:  sc.FetchRetryDelay(),
		FetchRetryWindow: sc.FetchRetryWindow(),
		CycleBackoff:     sc.CycleBackoff(),
		TurnSkew:         sc.TurnSkew(),
	}, api, engine.New(api, logger), st, logger, append(opts, scheduler.WithRecorder(recs))...)

	ctx, cancel := signalContext()
	defer cancel()

	if hub != nil {
		so := status.Options{Scheduler: sched, Hub: hub, Log: logger}
		if idx != nil {
			so.Index = idx
		}
		go func() {
			if err := status.Serve(ctx, cfg.Status.Listen, status.NewRouter(so), logger); err != nil {
				logger.Printf("status server: %v", err)
			}
		}()
	}

	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		logger.Printf("scheduler stopped: %v", err)
	}
	logger.Printf("shutdown")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
