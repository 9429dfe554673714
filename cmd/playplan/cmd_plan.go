/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/planner"
	"github.com/friendsincode/playplan/internal/plans"
	"github.com/friendsincode/playplan/internal/playlist"
)

var (
	planFilePath string
	planPlaylist string
	planCapacity float64
	planFormat   string
	planStart    string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print a viewing plan without storing it",
	Long: `Schedule a playlist into viewing days and print the result.

Items come from a YAML or JSON file or from a playlist URL.

Examples:
  # Plan a local item list, 45 minutes per day
  playplan plan --file course.yaml --capacity 45

  # Plan a playlist and export it as a calendar
  playplan plan --playlist "https://www.youtube.com/playlist?list=PL..." --format ical --start 2026-11-02
`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFilePath, "file", "f", "", "YAML or JSON file with items")
	planCmd.Flags().StringVarP(&planPlaylist, "playlist", "p", "", "Playlist URL or id")
	planCmd.Flags().Float64VarP(&planCapacity, "capacity", "c", 0, "Minutes per day (default from config or file)")
	planCmd.Flags().StringVar(&planFormat, "format", "table", "Output format: table, json or ical")
	planCmd.Flags().StringVar(&planStart, "start", "", "First day for ical output (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(planCmd)
}

type fileItem struct {
	ID              string  `yaml:"id"`
	Title           string  `yaml:"title"`
	DurationMinutes float64 `yaml:"duration_minutes"`
}

// planFile is either a mapping with items or a bare item list.
type planFile struct {
	Name            string     `yaml:"name"`
	CapacityMinutes float64    `yaml:"capacity_minutes"`
	Items           []fileItem `yaml:"items"`
}

func parsePlanFile(data []byte) (*planFile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("plan file is empty")
	}

	var pf planFile
	switch root := doc.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&pf.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	case yaml.MappingNode:
		if err := root.Decode(&pf); err != nil {
			return nil, fmt.Errorf("decode plan file: %w", err)
		}
	default:
		return nil, errors.New("plan file must be a list of items or a mapping with items")
	}

	for i := range pf.Items {
		if pf.Items[i].ID == "" {
			pf.Items[i].ID = strconv.Itoa(i + 1)
		}
	}
	return &pf, nil
}

func (pf *planFile) plannerItems() []planner.Item {
	items := make([]planner.Item, len(pf.Items))
	for i, it := range pf.Items {
		items[i] = planner.Item{ID: it.ID, Title: it.Title, DurationMinutes: it.DurationMinutes}
	}
	return items
}

func runPlan(cmd *cobra.Command, args []string) error {
	if (planFilePath == "") == (planPlaylist == "") {
		return errors.New("exactly one of --file or --playlist is required")
	}
	if err := loadConfig(); err != nil {
		return err
	}

	name := "Plan"
	capacity := cfg.DefaultCapacityMinutes
	var items []planner.Item

	if planFilePath != "" {
		data, err := os.ReadFile(planFilePath)
		if err != nil {
			return err
		}
		pf, err := parsePlanFile(data)
		if err != nil {
			return err
		}
		if pf.CapacityMinutes > 0 {
			capacity = pf.CapacityMinutes
		}
		if pf.Name != "" {
			name = pf.Name
		}
		items = pf.plannerItems()
	} else {
		id, err := playlist.ParsePlaylistURL(planPlaylist)
		if err != nil {
			return err
		}
		client := playlist.NewClient(playlist.ClientConfig{
			BaseURL:  cfg.DataAPIBaseURL,
			APIKey:   cfg.DataAPIKey,
			Timeout:  cfg.DataAPITimeout,
			MaxItems: cfg.MaxPlaylistItems,
		}, logger)
		spinner, _ := pterm.DefaultSpinner.Start("Fetching playlist...")
		pl, err := client.FetchPlaylist(cmd.Context(), id)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success(fmt.Sprintf("Fetched %d videos", len(pl.Videos)))
		name = pl.Title
		items = pl.Items()
	}
	if cmd.Flags().Changed("capacity") {
		capacity = planCapacity
	}

	periods, err := planner.ScheduleLimit(items, capacity, cfg.MaxPeriods)
	if errors.Is(err, planner.ErrPeriodLimit) {
		return fmt.Errorf("plan needs more than %d days at %s per day", cfg.MaxPeriods, plans.FormatMinutes(capacity))
	}
	if err != nil {
		return err
	}
	return writePlan(cmd.OutOrStdout(), name, capacity, periods)
}

func writePlan(w io.Writer, name string, capacity float64, periods []planner.Period) error {
	switch planFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"name":             name,
			"capacity_minutes": capacity,
			"total_minutes":    planner.TotalMinutes(periods),
			"day_count":        len(periods),
			"days":             periods,
		})
	case "ical":
		start := time.Now()
		if planStart != "" {
			parsed, err := time.ParseInLocation("2006-01-02", planStart, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			start = parsed
		}
		plan := &models.Plan{ID: "cli", Name: name, CapacityMinutes: capacity, Days: plans.FromPeriods("cli", periods)}
		_, err := w.Write(plans.ExportICal(plan, start, time.Local, time.Now()).Data)
		return err
	case "table":
		out, err := renderPlanTable(periods)
		if err != nil {
			return err
		}
		fmt.Fprint(w, out)
		fmt.Fprintf(w, "%d days, %s total at %s per day\n", len(periods),
			plans.FormatMinutes(planner.TotalMinutes(periods)), plans.FormatMinutes(capacity))
		return nil
	default:
		return fmt.Errorf("unknown format %q", planFormat)
	}
}

func renderPlanTable(periods []planner.Period) (string, error) {
	data := pterm.TableData{{"Day", "Video", "From", "To", "Length"}}
	for _, period := range periods {
		for i, seg := range period.Segments {
			day := ""
			if i == 0 {
				day = strconv.Itoa(period.Index)
			}
			title := seg.ItemTitle
			if title == "" {
				title = seg.ItemID
			}
			if seg.IsPartial() {
				title += " (part)"
			}
			data = append(data, []string{
				day,
				title,
				plans.FormatMinutes(seg.StartOffsetMinutes),
				plans.FormatMinutes(seg.EndOffsetMinutes),
				plans.FormatMinutes(seg.DurationMinutes()),
			})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}
