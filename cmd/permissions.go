package cmd

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/audit"
	"github.com/osprey0/osprey/internal/consent"
	"github.com/osprey0/osprey/internal/permission"
)

func newPermissionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permissions",
		Aliases: []string{"perms"},
		Short:   "Inspect and change plugin permission grants",
	}
	cmd.AddCommand(
		newPermissionsListCmd(a),
		newPermissionsShowCmd(a),
		newPermissionsGrantCmd(a),
		newPermissionsRevokeCmd(a),
		newPermissionsLogCmd(a),
	)
	return cmd
}

func newPermissionsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered plugins and their granted permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			entries := stack.perms.List()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins registered.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, p := range entries {
				rows = append(rows, []string{
					p.Plugin,
					p.Version,
					joinTypes(p.Granted.Types()),
					strconv.Itoa(p.Required.Len() + p.Optional.Len()),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"PLUGIN", "VERSION", "GRANTED", "DECLARED"}, rows))
			return nil
		},
	}
}

func newPermissionsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plugin>",
		Short: "Show a plugin's declared and granted permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			p, ok := stack.perms.Get(args[0])
			if !ok {
				return fmt.Errorf("plugin %q is not registered", args[0])
			}

			rows := make([][]string, 0, p.Required.Len()+p.Optional.Len())
			for _, t := range p.Required.Types() {
				rows = append(rows, permissionRow(t, "required", p.Has(t)))
			}
			for _, t := range p.Optional.Types() {
				rows = append(rows, permissionRow(t, "optional", p.Has(t)))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%s\n", p.Plugin, p.Version)
			fmt.Fprintln(out, renderTable([]string{"PERMISSION", "CLASS", "GRANTED", "DESCRIPTION"}, rows))
			return nil
		},
	}
}

func permissionRow(t permission.Type, class string, granted bool) []string {
	return []string{t.String(), class, strconv.FormatBool(granted), t.Description()}
}

func newPermissionsGrantCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <plugin> <permission>",
		Short: "Grant a declared permission to a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := permission.ParseType(args[1])
			if err != nil {
				return err
			}
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			if err := stack.perms.Grant(args[0], t); err != nil {
				return err
			}
			if err := stack.consent.Grant(args[0], t, ""); err != nil {
				return err
			}
			stack.auditor.Log(cmd.Context(), audit.Event{
				Type:    audit.EventPermissionGranted,
				Plugin:  args[0],
				Result:  audit.ResultSuccess,
				Details: map[string]any{"permission": string(t), "via": "cli"},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %q.\n", t, args[0])
			return nil
		},
	}
}

func newPermissionsRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <plugin> <permission>",
		Short: "Revoke a granted permission from a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := permission.ParseType(args[1])
			if err != nil {
				return err
			}
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			if err := stack.perms.Revoke(args[0], t); err != nil {
				return err
			}
			// The consent ledger may have no granted record when the
			// grant predates it; the registry revocation still counts.
			if err := stack.consent.Revoke(args[0], t, ""); err != nil &&
				!errors.Is(err, consent.ErrNotGranted) {
				return err
			}
			stack.auditor.Log(cmd.Context(), audit.Event{
				Type:    audit.EventPermissionRevoked,
				Plugin:  args[0],
				Result:  audit.ResultSuccess,
				Details: map[string]any{"permission": string(t), "via": "cli"},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s from %q.\n", t, args[0])
			return nil
		},
	}
}

func newPermissionsLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log [plugin]",
		Short: "Show recorded consent decisions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}

			var records []consent.Record
			if len(args) == 1 {
				records = stack.consent.Records(args[0])
			} else {
				all := stack.consent.All()
				for _, name := range slices.Sorted(maps.Keys(all)) {
					records = append(records, all[name]...)
				}
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No consent decisions recorded.")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.DecidedAt.Format(time.RFC3339),
					r.Plugin,
					r.Permission.String(),
					string(r.Status),
					r.User,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"DECIDED", "PLUGIN", "PERMISSION", "STATUS", "USER"}, rows))
			return nil
		},
	}
}
