package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civic-sage/backend/internal/bootstrap"
	"github.com/civic-sage/backend/internal/geo"
)

var seedFile string

var seedGeographyCmd = &cobra.Command{
	Use:   "seed-geography",
	Short: "Load officials and wards into neo4j",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := seedFile
		if path == "" {
			path = cfg.Geography.File
		}
		static, err := geo.LoadFile(path)
		if err != nil {
			return err
		}

		store, err := bootstrap.Neo4j(cfg, closer)
		if err != nil {
			return err
		}
		if err := store.Seed(cmd.Context(), static); err != nil {
			return err
		}

		officials, err := store.Officials(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d officials from %s\n", len(officials), path)
		return nil
	},
}

func init() {
	seedGeographyCmd.Flags().StringVar(&seedFile, "file", "", "geography YAML (default: geography.file from config)")
	rootCmd.AddCommand(seedGeographyCmd)
}
