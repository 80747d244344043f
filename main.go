package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	fConfig   = pflag.StringP("config", "c", "", "path or https URL of the TOML config file")
	fEnvFile  = pflag.String("env-file", ".env", "dotenv file loaded before reading KEENETIC_* variables")
	fBackend  = pflag.StringP("backend", "b", "", "override backend: http, ssh or dry-run")
	fDryRun   = pflag.BoolP("dry-run", "n", false, "log router commands instead of sending them")
	fInterval = pflag.DurationP("interval", "i", 0, "re-sync periodically at this interval; 0 runs once")
	fVerbose  = pflag.BoolP("verbose", "v", false, "enable debug logging")
)

func newLogger() (*zap.Logger, error) {
	if *fVerbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	pflag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rn := &runner{
		configPath: *fConfig,
		envFile:    *fEnvFile,
		backend:    *fBackend,
		dryRun:     *fDryRun,
	}

	if *fInterval <= 0 {
		result := rn.run(ctx, logger)
		logger.Sugar().Infof("run finished: %s", result)
		if result.err != nil {
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(*fInterval)
	defer ticker.Stop()
	for {
		result := rn.run(ctx, logger)
		logger.Sugar().Infof("run finished: %s", result)
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
		}
	}
}
