package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/db"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Webhook relay for platform messaging accounts",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled {
				return fmt.Errorf("postgres is not enabled in the config")
			}
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
