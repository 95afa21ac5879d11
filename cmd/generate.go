package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/secutrans/convoy/app"
	"github.com/secutrans/convoy/config"
	"github.com/secutrans/convoy/core/model"
)

var generateDate string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the expansion and grouping pipeline once for a date",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateDate, "date", "", "target date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	date := model.DateOf(time.Now())
	if generateDate != "" {
		date, err = model.ParseDate(generateDate)
		if err != nil {
			return err
		}
	}
	return svc.Trigger.RunOnce(ctx, date)
}
