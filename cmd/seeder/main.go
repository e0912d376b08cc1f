//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/unclebandit/drip-service/internal/config"
	"github.com/unclebandit/drip-service/internal/db"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/render"
	"github.com/unclebandit/drip-service/internal/repository"
)

// seedDefinitions upserts every drip by name and replaces its rules. Templates
// are parsed first so a broken definition never reaches the database.
func seedDefinitions(ctx context.Context, defs *config.Definitions, drips repository.DripRepositoryInterface, rules repository.RuleRepositoryInterface, r *render.Renderer) error {
	for _, def := range defs.Drips {
		for _, tpl := range []string{def.Subject, def.Body} {
			if err := r.Validate(tpl); err != nil {
				return fmt.Errorf("drip %s: %w", def.Name, err)
			}
		}
	}

	for _, def := range defs.Drips {
		modelRules, err := def.ModelRules()
		if err != nil {
			return err
		}
		d := def.Drip()
		if err := drips.UpsertByName(ctx, d); err != nil {
			return fmt.Errorf("upsert drip %s: %w", def.Name, err)
		}
		if err := rules.ReplaceForDrip(ctx, d.ID, modelRules); err != nil {
			return fmt.Errorf("replace rules of drip %s: %w", def.Name, err)
		}
		logger.Info("seeded drip", "drip", d.Name, "id", d.ID, "rules", len(modelRules))
	}
	return nil
}

func main() {
	skipSQL := flag.Bool("definitions-only", false, "only load drip definitions")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if err := db.Init(ctx, cfg.DSN()); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.DB.Close()

	if !*skipSQL {
		seedFiles := []string{
			"db/schema.sql",
			"db/seed.sql",
		}
		if err := db.ExecFiles(ctx, db.DB, seedFiles...); err != nil {
			logger.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	defs, err := config.LoadDefinitions(cfg.DefinitionsFile)
	if err != nil {
		logger.Error("load drip definitions failed", "file", cfg.DefinitionsFile, "error", err)
		os.Exit(1)
	}
	err = seedDefinitions(ctx, defs,
		&repository.DripRepository{DB: db.DB},
		&repository.RuleRepository{DB: db.DB},
		render.New(),
	)
	if err != nil {
		logger.Error("seeding drips failed", "error", err)
		os.Exit(1)
	}

	fmt.Println("Database seeding completed successfully!")
}
