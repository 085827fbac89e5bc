package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinical-cds/orchestrator/internal/config"
	"github.com/clinical-cds/orchestrator/internal/region"
)

// =============================================================================
// Servers Command
// =============================================================================

// buildServersCmd creates the "servers" command, printing the region-
// resolved server set for a country code without opening any session or
// running the LLM loop — useful for operators checking region and transport
// wiring.
func buildServersCmd() *cobra.Command {
	var (
		configPath string
		country    string
	)

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Print the knowledge-server set a country code resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd, configPath, country)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&country, "country", "", "ISO-3166 alpha-2 country code")

	return cmd
}

type serverResolution struct {
	RegionKey string             `json:"region_key"`
	Servers   []serverDescriptor `json:"servers"`
}

type serverDescriptor struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Known   bool   `json:"known"`
}

func runServers(cmd *cobra.Command, configPath, country string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	selector := region.NewSelector(cfg.Regions)
	regionKey, regionCfg := selector.Select(country)

	result := serverResolution{RegionKey: regionKey}
	for _, name := range regionCfg.Servers {
		spec, known := cfg.Servers[name]
		result.Servers = append(result.Servers, serverDescriptor{Name: name, Command: spec.Command, Known: known})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
