package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/kasuganosora/questledger/app"
	"github.com/kasuganosora/questledger/audit"
	"github.com/kasuganosora/questledger/game/quest"
	"github.com/kasuganosora/questledger/snapshot"
	"github.com/spf13/cobra"
)

const cliIP = "cli"

// errNotPersisted is returned when a command changed progress but the write
// to storage did not go through.
var errNotPersisted = errors.New("progress changed in memory but could not be persisted")

func newExportCmd(cfgPath *string) *cobra.Command {
	var stdout bool
	c := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the progress document to a file",
		Long:  "Write the progress document to file, or to quest-progress-<date>.json in the working directory when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			start := time.Now()
			doc := a.Store.ExportAllProgress()
			if stdout {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
				return err
			}
			path := quest.ExportFileName(start)
			if len(args) == 1 {
				path = args[0]
			}
			err = os.WriteFile(path, []byte(doc), 0o644)
			a.Audit.Log(audit.Entry{Action: audit.ActionExport, Detail: map[string]any{"file": path}, Err: err, IP: cliIP, Duration: time.Since(start)})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d bytes to %s\n", len(doc), path)
			return nil
		},
	}
	c.Flags().BoolVar(&stdout, "stdout", false, "print the document instead of writing a file")
	return c
}

func newImportCmd(cfgPath *string) *cobra.Command {
	var merge bool
	c := &cobra.Command{
		Use:   "import <file>",
		Short: "Load an exported progress document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := cmd.Context()
			start := time.Now()
			doc, err := quest.ParseDocument(string(raw))
			a.Audit.Log(audit.Entry{Action: audit.ActionImport, Detail: map[string]any{"file": args[0], "merge": merge}, Err: err, IP: cliIP, Duration: time.Since(start)})
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			if _, _, err := a.Snapshots.Take(ctx, snapshot.ReasonPreImport); err != nil {
				return fmt.Errorf("import: back up current progress: %w", err)
			}
			a.Store.ImportDocument(doc, merge)
			if err := persisted(ctx, a); err != nil {
				return err
			}
			mode := "replaced"
			if merge {
				mode = "merged"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s progress from %s\n", mode, args[0])
			return nil
		},
	}
	c.Flags().BoolVar(&merge, "merge", false, "merge into existing progress instead of replacing it")
	return c
}

func newResetCmd(cfgPath *string) *cobra.Command {
	var questID int
	c := &cobra.Command{
		Use:   "reset",
		Short: "Clear progress for one quest or for everything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			start := time.Now()
			entry := audit.Entry{Action: audit.ActionReset, IP: cliIP}
			if cmd.Flags().Changed("quest") {
				existed := a.Store.ResetQuest(questID)
				entry.QuestID = &questID
				entry.Detail = map[string]any{"existed": existed}
				if !existed {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "quest %d was not tracked\n", questID)
				} else {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reset quest %d\n", questID)
				}
			} else {
				a.Store.ResetAllProgress()
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "reset all progress")
			}
			entry.Duration = time.Since(start)
			a.Audit.Log(entry)
			return persisted(cmd.Context(), a)
		},
	}
	c.Flags().IntVar(&questID, "quest", 0, "reset only this quest id")
	return c
}

type stats struct {
	Revision     uint64               `json:"revision"`
	Quests       int                  `json:"quests"`
	Counts       map[quest.Status]int `json:"counts"`
	Events       int                  `json:"events"`
	TotalRewards quest.RewardLedger   `json:"totalRewards"`
	LedgerDrift  bool                 `json:"ledgerDrift"`
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print progress counts and reward totals as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			total := a.Store.TotalRewards()
			derived := a.Store.DerivedRewards()
			st := stats{
				Revision:     a.Store.Revision(),
				Quests:       len(a.Store.AllProgress()),
				Counts:       a.Store.StatusCounts(),
				Events:       len(a.Store.Timeline(0)),
				TotalRewards: total,
				LedgerDrift:  ledgerDrift(total, derived),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

// persisted retries a failed write once before reporting it.
func persisted(ctx context.Context, a *app.App) error {
	if !a.Store.Dirty() {
		return nil
	}
	if err := a.Store.Flush(ctx); err != nil {
		return fmt.Errorf("%w: %v", errNotPersisted, err)
	}
	return nil
}

// ledgerDrift reports whether the stored ledger differs from the one derived
// from the collected rewards. Items and perks compare as sets.
func ledgerDrift(total, derived quest.RewardLedger) bool {
	return total.XP != derived.XP || total.Caps != derived.Caps ||
		!sameSet(total.Items, derived.Items) || !sameSet(total.Perks, derived.Perks)
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
