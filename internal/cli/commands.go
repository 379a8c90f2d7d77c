// Package cli implements the one-shot subcommands of the medremind binary.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gmsas95/medremind/internal/adherence"
	"github.com/gmsas95/medremind/internal/app"
	"github.com/gmsas95/medremind/internal/config"
	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/timeutil"
)

var Version = "dev"

func HandleStatusCommand(w io.Writer, a *app.App) error {
	pending, err := a.PendingDoses()
	if err != nil {
		return err
	}
	upcoming, err := a.UpcomingDoses()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "MedRemind Status")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, medication.PendingSummary(len(pending)))
	if len(upcoming) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Upcoming today:")
		for _, d := range upcoming {
			fmt.Fprintf(w, "  %s  %s %s%s\n", d.Slot.Time, d.Medication.Name, d.Medication.Dosage, d.Medication.Unit)
		}
	}

	doses := len(pending) - len(upcoming)
	if doses > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%d dose(s) are past their time and still pending.\n", doses)
	}
	return nil
}

func HandleMedsCommand(w io.Writer, a *app.App) error {
	meds, err := a.Medications()
	if err != nil {
		return err
	}
	if len(meds) == 0 {
		fmt.Fprintln(w, "No medications yet.")
		return nil
	}
	for _, m := range meds {
		fmt.Fprintf(w, "%s  %s %s%s  [%s]  adherence %d%%\n",
			m.ID, m.Name, m.Dosage, m.Unit, strings.Join(m.Times(), ", "), m.AdherenceRate)
		for _, s := range m.Schedule {
			fmt.Fprintf(w, "    %s  %-7s %s\n", s.ID, slotState(s), s.Time)
		}
	}
	return nil
}

// HandleDoseCommand resolves a dose from the command line. The slot may be
// given by id or by its HH:MM time.
func HandleDoseCommand(ctx context.Context, w io.Writer, a *app.App, action string, args []string) error {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.SetOutput(w)
	reason := fs.String("reason", "", "Reason for skipping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fmt.Fprintf(w, "Usage: medremind %s <medication-id> <slot-id|HH:MM>", action)
		if action == "skip" {
			fmt.Fprint(w, " [-reason text]")
		}
		fmt.Fprintln(w)
		return fmt.Errorf("missing arguments")
	}

	medID, slotID, err := resolveSlot(a, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	var dose *medication.Dose
	switch action {
	case "take":
		dose, err = a.MarkTaken(ctx, medID, slotID, medication.MethodManual)
	case "skip":
		dose, err = a.MarkSkipped(ctx, medID, slotID, *reason, medication.MethodManual)
	case "undo":
		dose, err = a.Undo(ctx, medID, slotID)
	default:
		return fmt.Errorf("unknown dose action: %s", action)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ %s %s: %s\n", dose.Medication.Name, dose.Slot.Time, slotState(dose.Slot))
	return nil
}

func HandleStatsCommand(w io.Writer, a *app.App, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(w)
	med := fs.String("med", "", "Medication id (all when empty)")
	days := fs.Int("days", adherence.DefaultStatsDays, "Window in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := a.Stats(*med, *days)
	label := "All medications"
	if *med != "" {
		label = *med
	}
	fmt.Fprintf(w, "Adherence (%s, last %d days)\n", label, s.Days)
	fmt.Fprintf(w, "  Rate:    %d%%\n", s.Rate)
	fmt.Fprintf(w, "  Taken:   %d\n", s.Taken)
	fmt.Fprintf(w, "  Missed:  %d\n", s.Missed)
	fmt.Fprintf(w, "  Skipped: %d\n", s.Skipped)
	fmt.Fprintf(w, "  Streak:  %d day(s)\n", s.Streak)
	return nil
}

func HandleInsightsCommand(w io.Writer, a *app.App, args []string) error {
	fs := flag.NewFlagSet("insights", flag.ContinueOnError)
	fs.SetOutput(w)
	days := fs.Int("days", adherence.DefaultInsightDays, "Window in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := a.AnalyzeBehavior(*days)
	fmt.Fprintf(w, "Insights (last %d days)\n", in.Days)
	fmt.Fprintf(w, "  Best time of day:  %s\n", in.BestTimeOfDay)
	fmt.Fprintf(w, "  Worst time of day: %s\n", in.WorstTimeOfDay)
	fmt.Fprintf(w, "  Best day of week:  %s\n", in.BestDayOfWeek)
	fmt.Fprintf(w, "  Trend:             %s (%+d)\n", in.Trend, in.ImprovementScore)
	if len(in.CommonMissReasons) > 0 {
		fmt.Fprintf(w, "  Miss reasons:      %s\n", strings.Join(in.CommonMissReasons, ", "))
	}
	fmt.Fprintln(w)
	for _, s := range in.Suggestions {
		fmt.Fprintf(w, "• %s\n", s)
	}
	return nil
}

// HandleHistoryCommand prints one archived day, or the most recent days when
// no date is given.
func HandleHistoryCommand(w io.Writer, a *app.App, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(w)
	days := fs.Int("days", 7, "Number of recent days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() > 0 {
		date := fs.Arg(0)
		if _, err := timeutil.ParseDateKey(date, time.UTC); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}
		snap, err := a.History(date)
		if err != nil {
			return err
		}
		printSnapshot(w, *snap)
		return nil
	}

	snaps, err := a.RecentHistory(*days)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No history recorded yet.")
		return nil
	}
	for _, s := range snaps {
		printSnapshot(w, s)
	}
	return nil
}

func HandleRolloverCommand(ctx context.Context, w io.Writer, a *app.App) error {
	res, err := a.CheckAndResetIfNewDay(ctx)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintln(w, "Already up to date for today.")
		return nil
	}
	fmt.Fprintf(w, "Closed %s: %d missed dose(s) recorded, %d slot(s) reset for %s.\n",
		res.ClosedDate, res.Missed, res.Reset, res.Today)
	return nil
}

func HandleConfigCommand(w io.Writer, cfg *config.Config, configPath string, args []string) error {
	if len(args) == 0 {
		PrintConfigHelp(w)
		return nil
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(w, "Usage: medremind config get <key>")
			fmt.Fprintln(w, "Example: medremind config get reminders.quiet_hours.start")
			return fmt.Errorf("missing key")
		}
		return printConfigValue(w, cfg, args[1])

	case "path":
		fmt.Fprintln(w, configPath)

	case "show", "view":
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("error reading config: %w", err)
		}
		fmt.Fprintln(w, string(data))

	default:
		PrintConfigHelp(w)
	}
	return nil
}

func printConfigValue(w io.Writer, cfg *config.Config, key string) error {
	switch key {
	case "server.port":
		fmt.Fprintln(w, cfg.Server.Port)
	case "server.address":
		fmt.Fprintln(w, cfg.Server.Address)
	case "storage.data_dir":
		fmt.Fprintln(w, cfg.Storage.DataDir)
	case "storage.backend":
		fmt.Fprintln(w, cfg.Storage.Backend)
	case "scheduler.timezone":
		fmt.Fprintln(w, cfg.Scheduler.Timezone)
	case "reminders.quiet_hours.enabled":
		fmt.Fprintln(w, enabledStatus(cfg.Reminders.QuietHours.Enabled))
	case "reminders.quiet_hours.start":
		fmt.Fprintln(w, cfg.Reminders.QuietHours.Start)
	case "reminders.quiet_hours.end":
		fmt.Fprintln(w, cfg.Reminders.QuietHours.End)
	case "reminders.snooze_minutes":
		fmt.Fprintln(w, cfg.Reminders.SnoozeMinutes)
	default:
		fmt.Fprintf(w, "Unknown key: %s\n", key)
		fmt.Fprintln(w, "Available keys: server.port, server.address, storage.data_dir, storage.backend, scheduler.timezone,")
		fmt.Fprintln(w, "  reminders.quiet_hours.enabled, reminders.quiet_hours.start, reminders.quiet_hours.end, reminders.snooze_minutes")
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// HandleDoctorCommand reports configuration problems and returns how many
// it found.
func HandleDoctorCommand(w io.Writer, cfg *config.Config) int {
	fmt.Fprintln(w, "MedRemind Diagnostics")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	issues := 0

	if _, err := os.Stat(cfg.Storage.DataDir); os.IsNotExist(err) {
		fmt.Fprintln(w, "❌ Data Directory: Does not exist")
		issues++
	} else {
		fmt.Fprintf(w, "✅ Data Directory: %s\n", cfg.Storage.DataDir)
	}

	if _, err := cfg.Location(); err != nil {
		fmt.Fprintf(w, "❌ Timezone: %v\n", err)
		issues++
	} else {
		fmt.Fprintf(w, "✅ Timezone: %s\n", displayTZ(cfg.Scheduler.Timezone))
	}

	fmt.Fprintf(w, "✅ Storage Backend: %s\n", cfg.Storage.Backend)

	q := cfg.Reminders.QuietHours
	if q.Enabled {
		fmt.Fprintf(w, "✅ Quiet Hours: %s-%s\n", q.Start, q.End)
	} else {
		fmt.Fprintln(w, "⚠️  Quiet Hours: disabled, reminders may fire overnight")
	}

	fmt.Fprintln(w)
	if issues == 0 {
		fmt.Fprintln(w, "✅ All checks passed!")
	} else {
		fmt.Fprintf(w, "⚠️  Found %d issue(s).\n", issues)
	}
	return issues
}

func resolveSlot(a *app.App, medID, slot string) (string, string, error) {
	meds, err := a.Medications()
	if err != nil {
		return "", "", err
	}
	for _, m := range meds {
		if m.ID != medID {
			continue
		}
		for _, s := range m.Schedule {
			if s.ID == slot || s.Time == slot {
				return m.ID, s.ID, nil
			}
		}
		return "", "", apperrors.ErrSlotNotFound
	}
	return "", "", apperrors.ErrMedicationNotFound
}

func printSnapshot(w io.Writer, s medication.DaySnapshot) {
	fmt.Fprintln(w, s.Date)
	for _, m := range s.Medications {
		fmt.Fprintf(w, "  %s\n", m.Name)
		for _, slot := range m.Schedule {
			fmt.Fprintf(w, "    %s  %s\n", slot.Time, slotState(slot))
		}
	}
}

func slotState(s medication.DoseSlot) string {
	switch {
	case s.Taken:
		return "taken"
	case s.Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

func enabledStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func displayTZ(tz string) string {
	if tz == "" {
		return "Local"
	}
	return tz
}
