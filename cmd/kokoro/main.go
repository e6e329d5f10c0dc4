package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/kokoro/common/environment"
	"github.com/bdobrica/kokoro/common/observability"
	"github.com/bdobrica/kokoro/common/version"
	"github.com/bdobrica/kokoro/internal/kokoro/app"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
)

func main() {
	env := environment.New(config.EnvPrefix)
	configPath := flag.String("config", env.String("CONFIG", ""), "path to a YAML config file (env "+env.Name("CONFIG")+")")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	fmt.Println(version.Info())
	if *showVersion {
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)

	kokoro, err := app.New(cfg, app.Options{})
	if err != nil {
		slog.Error("failed to initialize kokoro", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := kokoro.Run(ctx)
	stop()

	if err := kokoro.Close(); err != nil {
		slog.Warn("shutdown", "err", err)
	}
	if runErr != nil {
		slog.Error("kokoro exited with error", "err", runErr)
		os.Exit(1)
	}
}
