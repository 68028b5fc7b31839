package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/internal/scheduler"
	"github.com/rohmanhakim/warcling/internal/stats"
)

// Exit codes mirror wget's own, so scripts that already branch on wget's
// exit status keep working unmodified against warcling.
const (
	exitSuccess      = 0
	exitGenericError = 1
	exitParseError   = 2
	exitNetworkError = 4
	exitSSLError     = 6
	exitAuthFailure  = 7
	exitServerErrors = 8
)

// RunCrawl builds an Engine from cfg and drives it to completion. The first
// SIGINT/SIGTERM requests a graceful stop (workers finish their current
// task, then the frontier is released for a future resume); a second
// cancels the context outright.
func RunCrawl(ctx context.Context, cfg config.Config) int {
	engine, err := scheduler.NewEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitGenericError
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dashboard := stats.NewDashboard(engine.Counters(), 0)
	go dashboard.Run(ctx)

	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := stats.ServeMetrics(ctx, addr, engine.Counters()); err != nil {
				fmt.Fprintf(os.Stderr, "warcling: metrics server stopped: %s\n", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		engine.RequestGracefulStop()
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	summary, err := engine.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitGenericError
	}

	fmt.Printf("warcling: fetched=%d errored=%d skipped=%d duration=%s\n",
		summary.Fetched, summary.Errored, summary.Skipped, summary.Duration)

	if summary.Errored > 0 {
		return exitNetworkError
	}
	return exitSuccess
}
