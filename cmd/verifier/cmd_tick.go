package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"carbon-scribe/verification-service/internal/config"
	"carbon-scribe/verification-service/internal/verification"
)

var tickCmd = &cobra.Command{
	Use:       "tick [complaint|plantation]",
	Short:     "Run a single verification tick and print its report",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(verification.KindComplaint), string(verification.KindPlantation)},
	RunE:      runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.scheduler.RunOnce(ctx, verification.Kind(args[0]))
	if err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
