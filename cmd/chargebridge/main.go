// Command chargebridge runs the charging station service.
//
// Configuration is read from the file named by -config when it exists and
// from the environment; run with -help to list every variable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/chargebridge/internal/app"
	"github.com/codewandler/chargebridge/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("chargebridge stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info("starting", slog.String("instance", cfg.AddOn.InstanceID), slog.String("store", cfg.Store.Type))
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
