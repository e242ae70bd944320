// Command statekitd runs the state substrate as a small daemon: one message
// bus, the exchange-rate and gas-estimate modules polling their configured
// endpoints, and a composite aggregating both under "Wallet". It exists to
// exercise the substrate end to end; embedders normally wire these pieces
// into their own process instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statekit/statekit/internal/bus"
	"github.com/statekit/statekit/internal/compose"
	"github.com/statekit/statekit/internal/config"
	"github.com/statekit/statekit/internal/modules/gas"
	"github.com/statekit/statekit/internal/modules/rates"
	"github.com/statekit/statekit/internal/poll"
	"github.com/statekit/statekit/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "statekitd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML or TOML config file")
		watch      = flag.Bool("watch", true, "reload polling intervals on config change")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	logger.Info("starting", "config", *configPath)

	b := bus.New(bus.WithErrorHandler(func(err error) {
		logger.Warn("listener failure isolated", "error", err)
	}))

	ctx := context.Background()
	client := &http.Client{Timeout: 10 * time.Second}

	ratesMod, err := rates.New(
		b.Restrict(rates.Name, nil, nil),
		cfg.Rates.Currency,
		cfg.Rates.Interval.Std(),
		rates.HTTPFetcher(client, cfg.Rates.URL),
		poll.WithLogger(logger),
		poll.WithErrorHandler(func(err error) {
			logger.Warn("rates refresh failed", "error", err)
		}),
	)
	if err != nil {
		return err
	}
	defer ratesMod.Destroy()

	gasMod, err := gas.New(
		b.Restrict(gas.Name, nil, nil),
		cfg.Gas.Interval.Std(),
		gas.HTTPFetcher(client, cfg.Gas.URL),
		poll.WithLogger(logger),
		poll.WithErrorHandler(func(err error) {
			logger.Warn("gas refresh failed", "error", err)
		}),
	)
	if err != nil {
		return err
	}
	defer gasMod.Destroy()

	wallet, err := compose.New(ctx, "Wallet", b.Restrict("Wallet", nil, nil),
		ratesMod.Container(), gasMod.Container())
	if err != nil {
		return err
	}
	defer wallet.Destroy()

	// The daemon's own messenger may only read: it calls nothing and
	// subscribes to the modules' change channels for logging.
	daemon := b.Restrict("Daemon", nil, []bus.EventName{
		"CurrencyRates:stateChange",
		"GasFees:stateChange",
		"Wallet:stateChange",
	})
	for _, ch := range []bus.EventName{"CurrencyRates:stateChange", "GasFees:stateChange", "Wallet:stateChange"} {
		channel := ch
		if _, err := daemon.Subscribe(channel, bus.ListenerFunc(func(ctx context.Context, args ...any) error {
			if len(args) == 2 {
				if p, ok := args[1].(state.Patch); ok {
					logger.Debug("state changed", "channel", string(channel), "patch", p.String())
				}
			}
			return nil
		})); err != nil {
			return err
		}
	}

	if cfg.Rates.Enabled {
		tok := ratesMod.Engine().Start(ctx)
		defer ratesMod.Engine().Stop(ctx, tok)
	}
	if cfg.Gas.Enabled {
		tok := gasMod.Engine().Start(ctx)
		defer gasMod.Engine().Stop(ctx, tok)
	}

	if *watch && *configPath != "" {
		w, err := config.Watch(*configPath, logger, func(next config.Config) {
			ratesMod.Engine().SetInterval(next.Rates.Interval.Std())
			gasMod.Engine().SetInterval(next.Gas.Interval.Std())
		})
		if err != nil {
			return err
		}
		defer w.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	stats := b.Stats()
	logger.Info("bus totals",
		"calls", stats.Calls,
		"published", stats.Published,
		"delivered", stats.Delivered,
		"suppressed", stats.Suppressed,
		"listenerErrors", stats.ListenerErrors,
		"listenerPanics", stats.ListenerPanics,
	)

	// Final snapshot to stdout: the handoff point for persistence, which the
	// daemon itself does not do.
	os.Stdout.Write(wallet.Container().Dump())
	os.Stdout.Write([]byte("\n"))
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
