package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"toggl-etl/internal/app"
	"toggl-etl/internal/config"
	"toggl-etl/internal/etl"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := app.LoadConfig(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates a TogglApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Load", "History").
func newApp(ctx context.Context, operation string, opts app.Options) (*app.TogglApp, *config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	a, err := app.NewTogglApp(ctx, cfg, operation, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, cfg, nil
}

var rootCmd = &cobra.Command{
	Use:          "toggl-etl",
	Short:        "Load Toggl time entries into a relational star schema",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetInt64("workspace")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Toggl.WorkspaceID = workspace

		token, err := promptToken()
		if err != nil {
			return fmt.Errorf("reading api token: %w", err)
		}
		cfg.Toggl.APIToken = token

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Database:  %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		if cfg.Toggl.APIToken == "" {
			fmt.Println("No API token stored; set TOGGL_API_TOKEN before loading.")
		}
		return nil
	},
}

// promptToken asks for the API token without echo. When stdin is not a
// terminal the token is left empty.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Toggl API token (leave empty to use TOGGL_API_TOKEN): ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		w := bufio.NewWriter(os.Stdout)
		defer w.Flush()

		fmt.Fprintf(w, "Configuration from %s:\n\n", path)
		fmt.Fprintf(w, "Base Dir:     %s\n", cfg.BaseDir)
		fmt.Fprintf(w, "Log Dir:      %s\n", cfg.LogDir)
		fmt.Fprintf(w, "Workspace:    %d\n", cfg.Toggl.WorkspaceID)
		fmt.Fprintf(w, "API Token:    %s\n", maskToken(cfg.Toggl.APIToken))
		fmt.Fprintf(w, "Base URL:     %s\n", cfg.Toggl.BaseURL)
		fmt.Fprintf(w, "Base Year:    %d\n", cfg.Toggl.BaseYear)
		fmt.Fprintf(w, "Database:     %s\n", cfg.Database.Type)
		switch cfg.Database.Type {
		case "sqlite":
			fmt.Fprintf(w, "Data Dir:     %s\n", cfg.Database.DataDir)
		case "postgres":
			fmt.Fprintf(w, "DSN:          %s\n", maskToken(cfg.Database.DSN))
		}
		fmt.Fprintf(w, "Strict FKs:   %v\n", cfg.Load.StrictForeignKeys)
		if cfg.Metrics.Textfile != "" {
			fmt.Fprintf(w, "Metrics File: %s\n", cfg.Metrics.Textfile)
		}
		return nil
	},
}

func maskToken(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 4:
		return "****"
	default:
		return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
	}
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the destination database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View schema version and table sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		status, err := app.GetSchemaStatus(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if status.Err != nil {
			fmt.Printf("Schema: %v\n", status.Err)
			fmt.Println("Run 'toggl-etl db migrate' to update.")
			return nil
		}

		fmt.Println("Schema: up to date")
		for _, c := range status.Counts {
			fmt.Printf("%-16s %8d\n", c.Table, c.Rows)
		}
		return nil
	},
}

// load command
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Pull entries from Toggl and append new rows",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		strict, _ := cmd.Flags().GetBool("strict")
		baseYear, _ := cmd.Flags().GetInt("base-year")
		verbose, _ := cmd.Flags().GetBool("verbose")

		a, cfg, err := newApp(cmd.Context(), "Load", app.Options{Verbose: verbose})
		if err != nil {
			return err
		}
		// Close records the run outcome and writes metrics.
		defer closeApp(a, &err, os.Stderr)

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		report, err := a.Load(cmd.Context(), strict, baseYear)
		if report != nil {
			printReport(os.Stdout, report)
		}
		if err != nil {
			return fmt.Errorf("load failed (run %s): %w", a.RunKey(), err)
		}

		fmt.Printf("Inserted %d row(s), rejected %d, renamed %d\n", report.Inserted(), report.Rejected(), report.Renamed())
		return nil
	},
}

func printReport(w io.Writer, report *etl.Report) {
	for _, s := range report.Stages {
		fmt.Fprintf(w, "%-12s candidates:%-6d inserted:%-6d rejected:%-6d renamed:%d\n",
			s.Stage, s.Candidates, s.Inserted, len(s.Rejected), len(s.Renamed))
	}
	for _, a := range report.Billed() {
		fmt.Fprintf(w, "Billed: %s\n", a)
	}
}

// closeApp closes c and reports its error through errp. When the command has
// already failed, the close error is printed to w instead.
func closeApp(c io.Closer, errp *error, w io.Writer) {
	cerr := c.Close()
	if cerr == nil {
		return
	}
	if *errp == nil {
		*errp = fmt.Errorf("closing run: %w", cerr)
		return
	}
	fmt.Fprintf(w, "Warning: %v\n", cerr)
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View load run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, _, err := newApp(cmd.Context(), "History", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No load runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.Finished() {
				duration = r.Duration().Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %-10s  %6d  %s\n",
				r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Inserted,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Int64P("workspace", "w", 0, "Toggl workspace id")

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().Bool("strict", false, "Fail the load on any unresolved foreign key")
	loadCmd.Flags().Int("base-year", 0, "First calendar year to extract (default from config)")
	loadCmd.Flags().BoolP("verbose", "v", false, "Log debug output")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
}
