package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/manifest"
	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/sandbox"
)

func newPluginsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "Manage sandboxed plugins",
	}
	cmd.AddCommand(
		newPluginsListCmd(a),
		newPluginsInfoCmd(a),
		newPluginsValidateCmd(a),
		newPluginsEnableCmd(a),
		newPluginsDisableCmd(a),
		newPluginsRunCmd(a),
	)
	return cmd
}

func newPluginsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugins found under the plugins directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			found, err := stack.manager.Discover()
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins found.")
				return nil
			}

			rows := make([][]string, 0, len(found))
			for _, d := range found {
				version, ptype := "-", "-"
				if d.Manifest != nil {
					version = d.Manifest.Plugin.Version
					ptype = d.Manifest.Plugin.Type
				}
				state := "disabled"
				switch {
				case d.Enabled:
					state = "enabled"
				case d.Result != nil && !d.Result.Passed:
					state = "invalid"
				}
				rows = append(rows, []string{d.Name, version, ptype, state})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"NAME", "VERSION", "TYPE", "STATE"}, rows))
			return nil
		},
	}
}

func newPluginsInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <plugin>",
		Short: "Show one plugin's version, state, and grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			st, err := stack.manager.Info(args[0])
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Name", st.Name},
				{"Version", st.Version},
				{"Type", st.Type},
				{"Enabled", strconv.FormatBool(st.Enabled)},
			}
			if st.Enabled {
				rows = append(rows, []string{"Enabled at", st.EnabledAt.Format(time.RFC3339)})
			}
			if st.SHA256 != "" {
				rows = append(rows, []string{"Entrypoint SHA-256", st.SHA256})
			}
			rows = append(rows, []string{"Granted", joinTypes(st.Granted)})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"FIELD", "VALUE"}, rows))
			return nil
		},
	}
}

func newPluginsValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin|path>",
		Short: "Validate a plugin manifest and print its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := manifestPath(a.cfg.Plugins.Dir, args[0])
			mf, res := manifest.NewValidator(a.logger).Validate(path)
			out := cmd.OutOrStdout()

			if mf != nil {
				fmt.Fprintf(out, "%s v%s (%s)\n", mf.Plugin.Name, mf.Plugin.Version, mf.Plugin.Type)
			}
			fmt.Fprintf(out, "Score: %.2f\n", res.Score)
			if len(res.Issues) > 0 {
				rows := make([][]string, 0, len(res.Issues))
				for _, issue := range res.Issues {
					rows = append(rows, []string{string(issue.Severity), issue.Field, issue.Message})
				}
				fmt.Fprintln(out, renderTable([]string{"SEVERITY", "FIELD", "MESSAGE"}, rows))
			}
			if !res.Passed {
				return fmt.Errorf("manifest validation failed: %s", path)
			}
			fmt.Fprintln(out, "Manifest OK.")
			return nil
		},
	}
}

// manifestPath resolves the validate argument: an existing file is
// used as is, an existing directory gets the manifest filename
// appended, anything else is a plugin name under the plugins
// directory.
func manifestPath(pluginsDir, arg string) string {
	if info, err := os.Stat(arg); err == nil {
		if info.IsDir() {
			return filepath.Join(arg, manifest.Filename)
		}
		return arg
	}
	return filepath.Join(pluginsDir, arg, manifest.Filename)
}

func newPluginsEnableCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "enable <plugin>",
		Short: "Validate, request consent for, and enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Enable plugin %q?", name))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			// --yes skips only the question above. Consent for each
			// required permission is still asked interactively.
			if err := stack.manager.Load(cmd.Context(), name, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plugin %q enabled.\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the enable confirmation (permission consent is still asked)")
	return cmd
}

func newPluginsDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <plugin>",
		Short: "Disable a plugin without touching its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			if err := stack.manager.Unload(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Plugin %q disabled. Grants are kept; use \"osprey permissions revoke\" to withdraw them.\n",
				args[0])
			return nil
		},
	}
}

func newPluginsRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plugin> [args...]",
		Short: "Execute an enabled command plugin in its sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.securityStack()
			if err != nil {
				return err
			}
			res, err := stack.manager.Execute(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			if res.Stdout != "" {
				fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
			}
			if res.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			}
			if res.OutputTruncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "(output truncated)")
			}
			if res.Status != sandbox.StatusSuccess {
				return fmt.Errorf("plugin %q %s (exit code %d)", args[0], res.Status, res.ExitCode)
			}
			return nil
		},
	}
	// Flags after the plugin name belong to the plugin.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// joinTypes renders a permission list for table cells.
func joinTypes(types []permission.Type) string {
	if len(types) == 0 {
		return "none"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
