// Package cmd provides command-line interface commands for the fusion
// pipeline.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"siemfusion/bootstrap"
	"siemfusion/config"
	"siemfusion/core"
	"siemfusion/sink"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

// maxReplayFileSize guards against memory exhaustion on oversized inputs.
const maxReplayFileSize = 50 * 1024 * 1024

// replayEvent is the on-disk event shape accepted by the replay command.
type replayEvent struct {
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// NewReplayCmd creates the replay command. It drives a recorded event file
// through the full pipeline offline and reports the resulting alerts.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.json>",
		Short: "Replay a recorded event file through the analysis pipeline",
		Long: `Replay loads a JSON array of normalized events, runs them through all
four analysis stages using the built-in heuristic provider, and prints
the alerts that would have been raised. Alerts go to an in-memory sink;
nothing is published externally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0])
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Emit alerts as JSON instead of formatted text")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only print the summary line")
	return cmd
}

func runReplay(path string) error {
	if noColor || outputJSON {
		color.NoColor = true
	}

	events, err := loadEvents(path)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		warningColor.Println("No events in file, nothing to replay")
		return nil
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Replay is always offline against the in-memory sink.
	cfg.Analysis.Provider = "heuristic"
	sugar := zap.NewNop().Sugar()

	client, err := bootstrap.BuildClient(cfg, sugar)
	if err != nil {
		return err
	}
	memSink := sink.NewMemorySink()

	ctx := context.Background()
	pipe := bootstrap.BuildPipeline(ctx, cfg, client, memSink, sugar)
	if err := pipe.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	var spin *spinner.Spinner
	if !quiet && !outputJSON {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = fmt.Sprintf(" Replaying %d events...", len(events))
		spin.Start()
	}

	for _, ev := range events {
		if err := pipe.Submit(ctx, ev); err != nil {
			if spin != nil {
				spin.Stop()
			}
			return fmt.Errorf("failed to submit event %s: %w", ev.EventID, err)
		}
	}
	pipe.Stop(5 * time.Minute)

	if spin != nil {
		spin.Stop()
	}
	return printResults(memSink, len(events))
}

func loadEvents(path string) ([]*core.Event, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read event file: %w", err)
	}
	if info.Size() > maxReplayFileSize {
		return nil, fmt.Errorf("event file exceeds %d byte limit", maxReplayFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read event file: %w", err)
	}
	var raw []replayEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid event file: %w", err)
	}

	events := make([]*core.Event, 0, len(raw))
	for i, in := range raw {
		if in.EventType == "" {
			return nil, fmt.Errorf("event %d: event_type is required", i)
		}
		ev := core.NewEvent(core.EventSource(in.Source))
		ev.EventType = in.EventType
		if in.Fields != nil {
			ev.Fields = in.Fields
		}
		if !in.Timestamp.IsZero() {
			ev.Timestamp = in.Timestamp
		}
		events = append(events, ev)
	}
	return events, nil
}

func printResults(memSink *sink.MemorySink, eventCount int) error {
	alerts := memSink.Alerts()

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(alerts)
	}

	if !quiet {
		headerColor.Printf("\nAlerts (%d)\n", len(alerts))
		for _, alert := range alerts {
			sevColor := severityColor(alert.Severity)
			sevColor.Printf("  [%s] ", alert.Severity)
			fmt.Printf("%s (score %.2f, confidence %.2f, events %d)\n",
				alert.Title, alert.Score, alert.Confidence, len(alert.SourceEventIDs))
			for _, technique := range alert.MitreTechniques {
				infoColor.Printf("      %s\n", technique)
			}
		}
	}

	successColor.Printf("\nReplayed %d events, raised %d alerts\n", eventCount, len(alerts))
	return nil
}

func severityColor(severity core.Severity) *color.Color {
	switch severity {
	case core.SeverityCritical, core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	default:
		return infoColor
	}
}
