// Command forestd runs the scan queue daemon: it owns the job database,
// the single worker loop, the approval gate, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"forest/internal/approval"
	"forest/internal/config"
	"forest/internal/daemon"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
	"forest/internal/scanner"
	"forest/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "forestd:", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; ignore when absent.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	writeConfig := flag.Bool("write-config", false, "write a sample config file and exit")
	flag.Parse()

	if *writeConfig {
		target := *configPath
		if target == "" {
			defaultPath, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			target = defaultPath
		}
		if err := config.CreateSample(target); err != nil {
			return err
		}
		fmt.Println("wrote sample config to", target)
		return nil
	}

	cfg, resolvedPath, found, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	if found {
		logger.Info("loaded config", logging.String("path", resolvedPath))
	} else {
		logger.Info("using built-in defaults", logging.String("missing_config", resolvedPath))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close job store", logging.Error(closeErr))
		}
	}()

	publisher := pipeline.NewPublisher()
	processor := scanner.NewCommandProcessor(cfg)
	wk := worker.New(cfg, store, publisher, processor, logger)
	gate := approval.New(cfg, store, store, publisher, wk.NotifyResolved, logger)

	d, err := daemon.New(cfg, store, publisher, wk, gate, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}
