package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/persist"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the pending lines stored in a save file",
		Long:  "Decodes a save slot file, either a record container or a bare JSON document, and lists the buffered lines per participant.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decoded lines as JSON")
	return cmd
}

func runInspect(cmd *cobra.Command, path string, asJSON bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := persist.DecodeAny(b)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		js, err := persist.Encode(snap)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(js))
		return nil
	}

	if len(snap) == 0 {
		fmt.Fprintln(out, "no pending lines")
		return nil
	}
	ids := make([]dialogue.ParticipantID, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		lines := snap[id]
		fmt.Fprintf(out, "participant %s (%d lines)\n", id, len(lines))
		for _, e := range lines {
			fmt.Fprintf(out, "  [%8.2fh] %s\n", e.Timestamp, dialogue.FormatLine(e))
		}
	}
	return nil
}
