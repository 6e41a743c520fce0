package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zombar/videotagger/internal/export"
)

var exportFlags struct {
	channel string
	out     string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a channel's videos and tags to an xlsx workbook",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.channel, "channel", "", "channel id to export")
	f.StringVar(&exportFlags.out, "out", "", "output path (default derived from the channel title)")
	exportCmd.MarkFlagRequired("channel")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	wb, err := export.Build(cmd.Context(), a.store, exportFlags.channel)
	if err != nil {
		return fmt.Errorf("failed to build export: %w", err)
	}
	defer wb.Close()

	out := exportFlags.out
	if out == "" {
		out = wb.Filename()
	}
	if err := wb.SaveAs(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Println(out)
	return nil
}
