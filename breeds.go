package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/example/nandivision/internal/breeds"
)

var importDSN string

var breedsCmd = &cobra.Command{
	Use:   "breeds",
	Short: "Inspect and manage the breed dictionary",
}

var breedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the breed labels of the configured dictionary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		for _, label := range catalog.Labels() {
			fmt.Fprintln(cmd.OutOrStdout(), label)
		}
		return nil
	},
}

var breedsShowCmd = &cobra.Command{
	Use:   "show <breed>",
	Short: "Print the metadata recorded for one breed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		return showBreed(cmd.OutOrStdout(), catalog, args[0])
	},
}

var breedsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a JSON or YAML dictionary into the breed database",
	Long: `Upserts every entry of a JSON or YAML breed dictionary into the
breed_metadata table. Existing rows with the same label are replaced.

Example: nandivision breeds import --dsn "host=localhost user=postgres" breeds.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		dsn := importDSN
		if dsn == "" {
			dsn = cfg.BreedsDatabaseDSN
		}
		if dsn == "" {
			return errors.New("no breed database configured: set BREEDS_DATABASE_DSN or --dsn")
		}

		catalog, err := breeds.LoadFile(args[0])
		if err != nil {
			return fmt.Errorf("load %s: %w", args[0], err)
		}

		ctx := commandContext(cmd)
		db, err := breeds.OpenDatabase(ctx, dsn)
		if err != nil {
			return err
		}
		defer breeds.CloseDatabase(db)

		repo := breeds.NewRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			return err
		}
		n, err := repo.Import(ctx, catalog)
		if err != nil {
			return err
		}
		logger.Info("breed dictionary imported", zap.String("file", args[0]), zap.Int("entries", n))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d breeds\n", n)
		return nil
	},
}

func init() {
	breedsImportCmd.Flags().StringVar(&importDSN, "dsn", "", "overrides BREEDS_DATABASE_DSN")

	breedsCmd.AddCommand(breedsListCmd)
	breedsCmd.AddCommand(breedsShowCmd)
	breedsCmd.AddCommand(breedsImportCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadCatalog(cmd *cobra.Command) (*breeds.Catalog, error) {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	defer logger.Sync() //nolint:errcheck
	return breeds.Load(commandContext(cmd), breeds.Source{File: cfg.BreedsFile, DatabaseDSN: cfg.BreedsDatabaseDSN}, logger)
}

func showBreed(w io.Writer, catalog *breeds.Catalog, name string) error {
	meta, err := catalog.Get(name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(meta)
}
