package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/coop-approval-api/pkg/config"
	"github.com/noah-isme/coop-approval-api/pkg/logger"
	"github.com/noah-isme/coop-approval-api/pkg/syncclient"
)

// status-watcher follows one enrollment's approval status from the
// terminal, polling the API gateway the same way a frontend session
// would.
func main() {
	var (
		baseURL      = flag.String("api", "http://localhost:8080/api/v1", "API gateway base URL")
		enrollmentID = flag.String("enrollment", "", "enrollment ID to watch")
		token        = flag.String("token", "", "bearer token for authenticated APIs")
	)
	flag.Parse()

	if *enrollmentID == "" {
		fmt.Fprintln(os.Stderr, "usage: status-watcher -enrollment <id> [-api <url>] [-token <jwt>]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := syncclient.NewHTTPStatusReader(*baseURL, *token, nil)
	client := syncclient.New(reader, *enrollmentID, syncclient.Config{
		Interval:    cfg.Sync.Interval,
		MaxFailures: cfg.Sync.MaxFailures,
		MaxBackoff:  cfg.Sync.MaxBackoff,
		StaleFactor: cfg.Sync.StaleFactor,
	}, nil, logr)

	if err := client.Start(ctx); err != nil {
		log.Fatalf("failed to start watcher: %v", err)
	}
	defer client.Stop()

	fmt.Printf("watching enrollment %s (interval %s)\n", *enrollmentID, cfg.Sync.Interval)

	var lastPrinted string
	for {
		select {
		case <-ctx.Done():
			fmt.Println("stopped")
			return
		case update := <-client.Updates():
			if update.Err != nil {
				fmt.Fprintf(os.Stderr, "live updates stopped: %v\n", update.Err)
				return
			}
			snap := update.Snapshot
			if string(snap.Status) == lastPrinted {
				continue
			}
			lastPrinted = string(snap.Status)
			stale := ""
			if client.IsStale(time.Now()) {
				stale = " (stale)"
			}
			fmt.Printf("%s  %s%s\n", snap.LastSyncAt.Format(time.RFC3339), snap.Status, stale)
		}
	}
}
