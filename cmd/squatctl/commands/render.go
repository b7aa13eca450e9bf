package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/storage"
)

func renderHistory(w io.Writer, workouts []storage.Workout, format string, now time.Time) error {
	if workouts == nil {
		workouts = []storage.Workout{}
	}

	switch format {
	case FormatYAML:
		return writeYAML(w, workouts)
	case FormatJSON:
		return writeJSON(w, workouts)
	}

	if len(workouts) == 0 {
		_, err := fmt.Fprintln(w, "no workouts")
		return err
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"When", "Reps", "Duration", "Counted by", "ID"})
	totalReps := 0
	for _, workout := range workouts {
		countedBy := "manual"
		if workout.UsedCamera {
			countedBy = "camera"
		}
		tbl.AppendRow(table.Row{
			humanize.RelTime(workout.Timestamp, now, "ago", "from now"),
			workout.RepCount,
			formatDuration(workout.DurationSeconds),
			countedBy,
			workout.ID,
		})
		totalReps += workout.RepCount
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d workouts", len(workouts)), totalReps})

	_, err := fmt.Fprintln(w, tbl.Render())
	return err
}

func renderStats(w io.Writer, stats storage.Stats, format string) error {
	switch format {
	case FormatYAML:
		return writeYAML(w, stats)
	case FormatJSON:
		return writeJSON(w, stats)
	}

	tbl := newTable()
	tbl.AppendRows([]table.Row{
		{"Sessions", humanize.Comma(int64(stats.TotalSessions))},
		{"Total reps", humanize.Comma(int64(stats.TotalReps))},
		{"Total time", formatDuration(stats.TotalDuration)},
		{"Avg reps / session", stats.AverageRepsPerSession},
		{"Avg duration", formatDuration(stats.AverageDurationSeconds)},
		{"Best streak", fmt.Sprintf("%d days", stats.BestStreak)},
		{"Camera usage", fmt.Sprintf("%d%%", stats.CameraUsagePercent)},
	})

	_, err := fmt.Fprintln(w, tbl.Render())
	return err
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	return tbl
}

// formatDuration renders seconds as m:ss
func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return errors.Wrap(err, "Can't encode yaml")
	}
	return encoder.Close()
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(v), "Can't encode json")
}
