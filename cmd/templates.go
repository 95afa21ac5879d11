package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/secutrans/convoy/app"
	"github.com/secutrans/convoy/config"
	"github.com/secutrans/convoy/core/model"
)

var templatesFile string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Order template commands",
}

var templatesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import order templates from a JSON file",
	RunE:  runTemplatesImport,
}

func init() {
	templatesImportCmd.Flags().StringVarP(&templatesFile, "file", "f", "templates.json", "template file")
	templatesCmd.AddCommand(templatesImportCmd)
	rootCmd.AddCommand(templatesCmd)
}

func runTemplatesImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	data, err := os.ReadFile(templatesFile)
	if err != nil {
		return fmt.Errorf("read templates: %w", err)
	}
	var templates []model.OrderTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	ctx := context.Background()
	for _, t := range templates {
		if err := svc.Store.UpsertTemplate(ctx, t); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
	}
	fmt.Printf("imported %d templates\n", len(templates))
	return nil
}
