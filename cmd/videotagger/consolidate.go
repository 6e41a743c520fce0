package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var consolidateFlags struct {
	strength float64
	detailed bool
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate TAG...",
	Short: "Consolidate a list of tags and print the result, one tag per line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConsolidate,
}

func init() {
	f := consolidateCmd.Flags()
	f.Float64Var(&consolidateFlags.strength, "strength", 0, "clustering strength (default from config)")
	f.BoolVar(&consolidateFlags.detailed, "detailed", false, "print names, clusters and mapping as JSON")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	strength := a.cfg.DefaultClusteringStrength
	if cmd.Flags().Changed("strength") {
		strength = consolidateFlags.strength
	}

	result, err := a.consolidator().ConsolidateDetailed(cmd.Context(), args, strength)
	if err != nil {
		return err
	}

	if consolidateFlags.detailed {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, tag := range result.Tags {
		fmt.Println(tag)
	}
	return nil
}
