// Package analyser summarises the KPI ledger per migration type.
package analyser

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/migrobot/internal/db"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	statusStyle = map[string]lipgloss.Style{
		db.StatusGreen:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		db.StatusYellow: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		db.StatusRed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// RunAnalysis reads the KPI summary from conn and writes it to w.
func RunAnalysis(ctx context.Context, conn *sql.DB, w io.Writer, logger *slog.Logger) error {
	logger.Info("--- Starting KPI Analysis ---")
	kpis, err := db.KPISummary(ctx, conn)
	if err != nil {
		return fmt.Errorf("kpi summary: %w", err)
	}
	if len(kpis) == 0 {
		fmt.Fprintln(w, "No migrations recorded yet.")
		return nil
	}
	Render(w, kpis)
	logger.Info("--- KPI Analysis Finished ---", slog.Int("mig_types", len(kpis)))
	return nil
}

// SuccessRate is the share of successful jobs, 0 for an empty ledger.
func SuccessRate(k db.KPI) float64 {
	if k.Total == 0 {
		return 0
	}
	return float64(k.Success) / float64(k.Total)
}

// Render writes one row per migration type.
func Render(w io.Writer, kpis []db.KPI) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-5s | %6s | %7s | %8s | %11s | %7s | %7s | %12s | %s",
		"Type", "Jobs", "Success", "Business", "Application", "Rate", "Missing", "Avg duration", "Health")))
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, k := range kpis {
		health := fmt.Sprintf("%d/%d", k.LastHealth, db.HealthWindow+1)
		if style, ok := statusStyle[k.LastStatus]; ok {
			health = style.Render(fmt.Sprintf("%s %s", health, k.LastStatus))
		}
		fmt.Fprintf(w, "%-5s | %6d | %7d | %8d | %11d | %6.1f%% | %7d | %12s | %s\n",
			k.MigType, k.Total, k.Success, k.Business, k.Application, 100*SuccessRate(k), k.Missing,
			k.AvgDuration.Round(time.Second), health)
	}
}
