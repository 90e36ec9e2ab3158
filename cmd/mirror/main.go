// cmd/mirror/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github-repo-mirror/internal/config"
	"github-repo-mirror/internal/gitsync"
	"github-repo-mirror/internal/mirror"
	"github-repo-mirror/internal/profile"
	"github-repo-mirror/internal/scheduler"
	"github-repo-mirror/internal/state"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mirror",
		Short:         "Back up GitHub repositories to local mirrors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newProfileCmd())
	root.AddCommand(newStateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		profilePath string
		profileName string
		dryRun      bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover repositories and bring local mirrors up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			if profileName != "" {
				f, err := profile.Load(profilePath)
				if err != nil {
					return fmt.Errorf("failed to load profiles: %w", err)
				}
				if err := f.Apply(profileName, cfg); err != nil {
					return err
				}
				logger.Info("Profile applied", "profile", profileName)
			}
			if dryRun {
				cfg.DryRun = true
			}
			if force {
				cfg.Force = true
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			orch, err := mirror.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer orch.Close()

			summary, err := orch.Run(ctx)
			if err != nil {
				return fmt.Errorf("%s", gitsync.Redact(err.Error(), cfg.GithubToken))
			}

			printSummary(cmd.OutOrStdout(), summary)
			if !summary.Ok() {
				return fmt.Errorf("%d of %d repositories failed", summary.Failed+summary.Cancelled, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profilePath, "profiles", profile.DefaultPath(), "path to the profiles file")
	cmd.Flags().StringVar(&profileName, "profile", "", "named profile to apply")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned actions without touching anything")
	cmd.Flags().BoolVar(&force, "force", false, "sync even repositories whose remote is unchanged")
	return cmd
}

func newProfileCmd() *cobra.Command {
	var profilePath string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage named run profiles",
	}
	cmd.PersistentFlags().StringVar(&profilePath, "profiles", profile.DefaultPath(), "path to the profiles file")

	cmd.AddCommand(
		newProfileListCmd(&profilePath),
		newProfileShowCmd(&profilePath),
		newProfileSaveCmd(&profilePath),
		newProfileDeleteCmd(&profilePath),
	)
	return cmd
}

func newProfileListCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available run profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := profile.Load(*path)
			if err != nil {
				return fmt.Errorf("failed to load profiles: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Profile", "Description"})
			for _, name := range f.Names() {
				table.Append([]string{name, f.Profiles[name].Description})
			}
			table.Render()
			return nil
		},
	}
}

func newProfileShowCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a profile's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := profile.Load(*path)
			if err != nil {
				return fmt.Errorf("failed to load profiles: %w", err)
			}
			out, err := f.Render(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newProfileSaveCmd(path *string) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current configuration as a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			f, err := profile.Load(*path)
			if errors.Is(err, os.ErrNotExist) {
				f = &profile.File{}
			} else if err != nil {
				return fmt.Errorf("failed to load profiles: %w", err)
			}

			f.Set(args[0], profile.FromConfig(cfg, description))
			if err := f.Save(*path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %q to %s\n", args[0], *path)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "profile description")
	return cmd
}

func newProfileDeleteCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := profile.Load(*path)
			if err != nil {
				return fmt.Errorf("failed to load profiles: %w", err)
			}
			if err := f.Delete(args[0]); err != nil {
				return err
			}
			if err := f.Save(*path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %q\n", args[0])
			return nil
		},
	}
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show recorded sync markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			store, err := state.Open(cfg.DestRoot)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.All()
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Repository", "Commit", "Pushed At", "Synced At"})
			for _, k := range keys {
				st := all[k]
				ref := st.CommitRef
				if len(ref) > 12 {
					ref = ref[:12]
				}
				table.Append([]string{
					k, ref,
					st.PushedAt.Format("2006-01-02 15:04"),
					st.SyncedAt.Format("2006-01-02 15:04"),
				})
			}
			table.Render()
			return nil
		},
	}
	return cmd
}

// setup initializes the structured logger and loads configuration.
func setup() (*config.Config, *slog.Logger, error) {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)

	return cfg, logger, nil
}

func printSummary(out io.Writer, s scheduler.Summary) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Total", "Succeeded", "Skipped", "Failed", "Cloned", "Updated", "Duration"})
	table.Append([]string{
		fmt.Sprint(s.Total), fmt.Sprint(s.Succeeded), fmt.Sprint(s.Skipped),
		fmt.Sprint(s.Failed + s.Cancelled), fmt.Sprint(s.Cloned), fmt.Sprint(s.Updated),
		s.Duration.Round(time.Second).String(),
	})
	table.Render()

	if len(s.Failures) > 0 {
		ft := tablewriter.NewWriter(out)
		ft.SetHeader([]string{"Repository", "Code", "Error"})
		for _, f := range s.Failures {
			ft.Append([]string{f.Repo.FullName, string(f.Code), f.Err.Error()})
		}
		ft.Render()
	}
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
