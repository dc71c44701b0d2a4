package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plugman/internal/app"
	"plugman/internal/config"
	"plugman/internal/forge"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var statePath string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{
			StatePath: statePath,
			Version:   version,
			Chooser:   promptChooser,
		})
	}

	cmd := &cobra.Command{
		Use:           "plugman",
		Short:         "Plugin manager for the PowerToys Run launcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&statePath, "config", "", "path to the state file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newAddCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newUpdateCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRemoveCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newPinCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newImportCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRestartCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newEditCmd(&statePath))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSelfCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newAddCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var targetVersion string
	var pattern string
	cmd := &cobra.Command{
		Use:     "add <name> <owner/repo>",
		Aliases: []string{"a", "install"},
		Short:   "Add a plugin",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Add(context.Background(), args[0], args[1], targetVersion, pattern)
			out := printReport(*jsonOutput, report)
			if err != nil {
				return err
			}
			return out
		},
	}
	cmd.Flags().StringVarP(&targetVersion, "version", "v", "", "target release tag instead of latest")
	cmd.Flags().StringVar(&pattern, "pattern", "", "asset filename regular expression")
	return cmd
}

func newUpdateCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var all bool
	var versions []string
	cmd := &cobra.Command{
		Use:     "update [name ...]",
		Aliases: []string{"u", "up", "upgrade"},
		Short:   "Update plugins",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Update(context.Background(), args, versions, all)
			out := printReport(*jsonOutput, report)
			if err != nil {
				return err
			}
			return out
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "update every unpinned plugin")
	cmd.Flags().StringArrayVarP(&versions, "version", "v", nil, "target tag, aligned with names")
	return cmd
}

func newRemoveCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"r", "rm", "uninstall"},
		Short:   "Remove plugins",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Remove(context.Background(), args)
			out := printReport(*jsonOutput, report)
			if err != nil {
				return err
			}
			return out
		},
	}
	return cmd
}

func newPinCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	pinCmd := &cobra.Command{Use: "pin", Aliases: []string{"p"}, Short: "Pin plugins against bulk updates"}

	addCmd := &cobra.Command{
		Use:   "add <name>...",
		Short: "Pin plugins",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Pin(args)
			if err != nil {
				return err
			}
			return printReport(*jsonOutput, report)
		},
	}

	removeCmd := &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"rm"},
		Short:   "Unpin plugins",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Unpin(args)
			if err != nil {
				return err
			}
			return printReport(*jsonOutput, report)
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pinned plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			pins := svc.Pins()
			if *jsonOutput {
				return print(true, pins, "")
			}
			for _, name := range pins {
				fmt.Println(name)
			}
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every pin",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			count, err := svc.PinReset()
			if err != nil {
				return err
			}
			return print(*jsonOutput, map[string]int{"cleared": count}, fmt.Sprintf("cleared %d pin(s)", count))
		},
	}

	pinCmd.AddCommand(addCmd, removeCmd, listCmd, resetCmd)
	return pinCmd
}

func newListCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l", "ls"},
		Short:   "List managed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			rows := svc.List()
			if *jsonOutput {
				return print(true, rows, "")
			}
			if len(rows) == 0 {
				fmt.Println("no plugins installed")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tREPOSITORY\tVERSION\tFLAGS")
			for _, row := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Name, row.Repository, row.Version, rowFlags(row))
			}
			return tw.Flush()
		},
	}
	return cmd
}

func rowFlags(row app.PluginInfo) string {
	var flags []string
	if row.Pinned {
		flags = append(flags, "pinned")
	}
	if !row.Installed {
		flags = append(flags, "missing")
	}
	return strings.Join(flags, ",")
}

func newImportCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "import",
		Aliases: []string{"i"},
		Short:   "Install everything the state file records",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Import(context.Background(), dryRun)
			out := printReport(*jsonOutput, report)
			if err != nil {
				return err
			}
			return out
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "rewrite the state file without installing anything")
	return cmd
}

func newRestartCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the host launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			notes, err := svc.Restart(context.Background())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, map[string]any{"restarted": true, "notes": notes}, "")
			}
			for _, note := range notes {
				fmt.Println(note)
			}
			fmt.Println("restarted")
			return nil
		},
	}
	return cmd
}

func newEditCmd(statePath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open the state file in your editor",
		// The service is deliberately not constructed here: edit is the
		// escape hatch for a state file the loader refuses to parse.
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *statePath
			if path == "" {
				path = config.DefaultStatePath()
			}
			return openEditor(path)
		},
	}
	return cmd
}

func openEditor(path string) error {
	editor := os.Getenv("EDITOR")
	var c *exec.Cmd
	switch {
	case editor != "":
		c = exec.Command(editor, path)
	case runtime.GOOS == "windows":
		c = exec.Command("notepad", path)
	default:
		c = exec.Command("vi", path)
	}
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun()
			if *jsonOutput {
				return print(true, report, "")
			}
			if report.HostPath != "" {
				fmt.Println("host:", report.HostPath)
			}
			if report.Healthy && len(report.Findings) == 0 {
				fmt.Println("healthy")
				return nil
			}
			for _, f := range report.Findings {
				fmt.Printf("- [%s] %s: %s\n", f.Level, f.Code, f.Message)
			}
			if !report.Healthy {
				return &exitError{code: 1, msg: "doctor found errors"}
			}
			return nil
		},
	}
	return cmd
}

func newSelfCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	selfCmd := &cobra.Command{Use: "self", Short: "Manage plugman itself"}
	updateCmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"upgrade", "up"},
		Short:   "Update the plugman binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.SelfUpdate(context.Background())
			if err != nil {
				return err
			}
			if res.Updated {
				return print(*jsonOutput, res, fmt.Sprintf("updated %s -> %s", res.CurrentVersion, res.LatestVersion))
			}
			return print(*jsonOutput, res, fmt.Sprintf("already current (%s)", res.CurrentVersion))
		},
	}
	selfCmd.AddCommand(updateCmd)
	return selfCmd
}

func newVersionCmd(jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version": version,
				"commit":  commit,
				"date":    date,
			}
			if *jsonOutput {
				return print(true, info, "")
			}
			fmt.Printf("plugman %s\ncommit: %s\nbuilt at: %s\n", version, commit, date)
			return nil
		},
	}
}

// promptChooser lists a release's assets and reads an index from stdin.
// A single candidate is taken without asking.
func promptChooser(plugin string, choice *forge.ManualChoice) (int, error) {
	if len(choice.Candidates) == 1 {
		return 0, nil
	}
	fmt.Printf("%s %s has no unique asset match; pick one:\n", plugin, choice.Tag)
	for i, a := range choice.Candidates {
		fmt.Printf("  [%d] %s\n", i, a.Name)
	}
	fmt.Print("asset number: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("FRG_ASSET_AMBIGUOUS: no selection made: %w", err)
	}
	index, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("FRG_ASSET_AMBIGUOUS: %q is not an asset number", strings.TrimSpace(line))
	}
	return index, nil
}

// printReport renders per-plugin outcomes: "+" for installs and updates,
// "=" for already current, "-" for removals, failures to stderr. Any
// failed plugin turns into exit code 1 after the rest are reported.
func printReport(jsonOutput bool, report app.Report) error {
	if jsonOutput {
		if err := print(true, report, ""); err != nil {
			return err
		}
	} else {
		for _, res := range report.Results {
			switch res.Status {
			case app.StatusInstalled, app.StatusUpdated:
				fmt.Printf("+ %s@%s\n", res.Name, res.Version)
			case app.StatusCurrent:
				fmt.Printf("= %s@%s\n", res.Name, res.Version)
			case app.StatusRemoved:
				fmt.Printf("- %s\n", res.Name)
			case app.StatusFailed:
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", res.Name, res.Error)
			default:
				fmt.Printf("%s %s\n", res.Status, res.Name)
			}
		}
		for _, note := range report.Notes {
			fmt.Println(note)
		}
	}
	if n := report.Failed(); n > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d plugin(s) failed", n)}
	}
	return nil
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
