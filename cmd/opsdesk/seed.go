package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/config"
	"github.com/opsdesk/opsdesk/internal/sector"
	"github.com/opsdesk/opsdesk/internal/user"
	"github.com/opsdesk/opsdesk/internal/webhook"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the default admin account, sector and webhook config",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := user.New(pool)
	sectors := sector.New(pool)
	webhooks := webhook.NewStore(pool)

	// Check if seed has already run.
	existing, err := users.List(ctx)
	if err != nil {
		return fmt.Errorf("checking existing users: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("data already exists, skipping seed")
		return nil
	}

	adminEmail := "admin@opsdesk.local"
	adminPassword := "admin"
	adminRole := auth.RoleAdmin
	admin, err := users.Create(ctx, user.CreateUserInput{
		Name:     "admin",
		Email:    &adminEmail,
		Password: &adminPassword,
		Role:     &adminRole,
	})
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}
	slog.Info("created admin user", "id", admin.ID)

	sec, err := sectors.Create(ctx, "General")
	if err != nil {
		return fmt.Errorf("creating default sector: %w", err)
	}
	slog.Info("created default sector", "id", sec.ID)

	// An inactive placeholder so the admin panel has something to edit.
	if _, err := webhooks.Save(ctx, webhook.SaveConfigInput{
		Fields: webhook.DefaultFields(),
	}); err != nil {
		return fmt.Errorf("creating webhook config: %w", err)
	}
	slog.Info("created webhook config (inactive)")

	fmt.Printf("\n=== Seed Complete ===\n")
	fmt.Printf("Admin login: admin / admin\n")
	fmt.Printf("Change the password after first login:\n")
	fmt.Printf("  curl -X POST http://localhost:%d/api/auth/login -d '{\"username\":\"admin\",\"password\":\"admin\"}'\n", cfg.Server.Port)

	return nil
}
