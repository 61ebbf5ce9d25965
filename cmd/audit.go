package cmd

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the security audit log",
	}
	cmd.AddCommand(newAuditListCmd(a), newAuditPruneCmd(a))
	return cmd
}

func newAuditListCmd(a *app) *cobra.Command {
	var (
		eventType  string
		pluginName string
		since      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events in recorded order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := auditQueryOptions(eventType, pluginName, since, limit, time.Now())
			if err != nil {
				return err
			}
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			events, err := stack.auditor.Events(opts...)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit events.")
				return nil
			}

			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					e.Time.Format(time.RFC3339),
					string(e.Type),
					e.Plugin,
					e.Result,
					formatDetails(e.Details),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"TIME", "TYPE", "PLUGIN", "RESULT", "DETAILS"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&pluginName, "plugin", "", "filter by plugin name")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than this (duration like 24h, or RFC 3339 time)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events, 0 for all")
	return cmd
}

// auditQueryOptions translates the list flags into query options.
func auditQueryOptions(eventType, plugin, since string, limit int, now time.Time) ([]audit.QueryOption, error) {
	var opts []audit.QueryOption
	if eventType != "" {
		t := audit.EventType(eventType)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown audit event type %q", eventType)
		}
		opts = append(opts, audit.WithType(t))
	}
	if plugin != "" {
		opts = append(opts, audit.WithPlugin(plugin))
	}
	if since != "" {
		cutoff, err := parseSince(since, now)
		if err != nil {
			return nil, err
		}
		opts = append(opts, audit.Since(cutoff))
	}
	if limit > 0 {
		opts = append(opts, audit.WithLimit(limit))
	}
	return opts, nil
}

// parseSince accepts a look-back duration ("24h") or an absolute
// RFC 3339 time.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration like 24h or an RFC 3339 time", s)
}

// formatDetails renders an event's detail map as sorted key=value
// pairs.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(details))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}

func newAuditPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop audit events older than a retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be a positive duration")
			}
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			kept, dropped, err := stack.auditor.Prune(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d events, kept %d.\n", dropped, kept)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "drop events older than this duration")
	return cmd
}
