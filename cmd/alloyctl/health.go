package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dreamware/alloy/pkg/cluster"
)

const defaultWatchInterval = 30 * time.Second

var (
	styleHealthy   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	styleDegraded  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	styleUnhealthy = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func newHealthCmd(a *app) *cobra.Command {
	var (
		watch  bool
		rounds int
	)

	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Probe every node and print its status",
		Aliases: []string{"status"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return watchHealth(cmd.Context(), a, rounds)
			}
			// A failed probe is part of the report, not a command error.
			if err := a.manager.Refresh(cmd.Context()); err != nil {
				a.logger.Debug("refresh failed on every node", "error", err)
			}
			return printHealth(a, a.manager.Health())
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing every refresh_interval and reprint the table")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "with --watch, stop after this many tables (0 runs until interrupted)")
	return cmd
}

// watchHealth runs the background refresher and prints a table per interval.
func watchHealth(ctx context.Context, a *app, rounds int) error {
	interval := a.cfg.RefreshInterval.Duration
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	if err := a.manager.StartRefresher(ctx, interval); err != nil {
		return err
	}
	defer a.manager.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for printed := 0; rounds == 0 || printed < rounds; printed++ {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
		if printed > 0 {
			fmt.Fprintln(a.out)
		}
		if err := printHealth(a, a.manager.Health()); err != nil {
			return err
		}
	}
	return nil
}

func printHealth(a *app, report []cluster.NodeStatus) error {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tWEIGHT\tSTATUS\tFAILS\tSCORE\tMODELS\tREFRESHED\tERROR")
	for _, s := range report {
		refreshed := "-"
		if !s.RefreshedAt.IsZero() {
			refreshed = s.RefreshedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%d\t%.3f\t%d\t%s\t%s\n",
			s.Node.Label(), s.Node.BaseURL, s.Node.Weight, renderStatus(s.Health.Status),
			s.Health.ConsecutiveFails, s.Score, s.Models, refreshed, s.Health.LastError)
	}
	return w.Flush()
}

func renderStatus(status string) string {
	switch status {
	case cluster.StatusHealthy:
		return styleHealthy.Render(status)
	case cluster.StatusDegraded:
		return styleDegraded.Render(status)
	case cluster.StatusUnhealthy:
		return styleUnhealthy.Render(status)
	}
	return styleDim.Render(status)
}
