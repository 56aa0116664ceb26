package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coldbackup/internal/app"
	"coldbackup/internal/config"
)

// version is overwritten at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:     "coldbackup",
	Short:   "Content-addressed cold storage backup engine",
	Version: version,
}

var configFile string

// newApp resolves config from flags/env/file and builds a fully wired
// App. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.App, error) {
	path := configFile
	if path == "" {
		if def, err := app.DefaultConfigPath(); err == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			}
		}
	}
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.New(ctx, cfg)
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Walk the target directory and reconcile it against remote storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Backup(ctx)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("backup complete: %d succeeded, %d failed\n", summary.Succeeded, summary.Failed)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Rebuild the target directory from remote storage alone",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("restored %d file(s)\n", n)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Preview pending changes against the local index without mutating anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.Status(ctx)
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}

		if changes.IsEmpty() {
			fmt.Println("up to date")
			return nil
		}
		for _, p := range changes.New {
			fmt.Printf("new      %s\n", p)
		}
		for _, p := range changes.Changed {
			fmt.Printf("changed  %s\n", p)
		}
		for _, p := range changes.Missing {
			fmt.Printf("missing  %s\n", p)
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Permanently delete blobs whose records have emptied and expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rebuild, _ := cmd.Flags().GetBool("rebuild-local-index")
		if rebuild {
			n, err := a.RebuildLocalIndex(ctx)
			if err != nil {
				return fmt.Errorf("rebuilding local index: %w", err)
			}
			fmt.Printf("rebuilt %d local index record(s)\n", n)
		}

		destroyAll, _ := cmd.Flags().GetBool("destroy-all")
		if destroyAll {
			confirmed, err := confirm("Are you sure you want to delete your backup? (y/n) ")
			if err != nil {
				return fmt.Errorf("reading confirmation: %w", err)
			}
			if !confirmed {
				fmt.Println("aborting")
				return nil
			}
			n, err := a.DestroyAll(ctx)
			if err != nil {
				return fmt.Errorf("destroying all backup data: %w", err)
			}
			fmt.Printf("destroyed %d hash record(s) and their blobs\n", n)
			return nil
		}

		n, err := a.Clean(ctx)
		if err != nil {
			return fmt.Errorf("clean failed: %w", err)
		}
		fmt.Printf("reaped %d record(s)\n", n)
		return nil
	},
}

// confirm prints prompt and reads a line from stdin, reporting whether
// the trimmed, case-insensitive answer was "y" or "yes".
func confirm(prompt string) (bool, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the TOML config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "coldbackup.toml"
		if len(args) > 0 {
			path = args[0]
		}
		if err := config.WriteDefault(path, config.Default()); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML config file")
	if err := config.BindFlags(rootCmd, v); err != nil {
		panic(err)
	}

	cleanCmd.Flags().Bool("rebuild-local-index", false, "repopulate the local index from the remote index before reaping")
	cleanCmd.Flags().Bool("destroy-all", false, "empty the remote index and permanently delete every blob it referenced, after an interactive y/n confirmation")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(configCmd)
}
