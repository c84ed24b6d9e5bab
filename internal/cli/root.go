package cli

import (
	"context"
	"flag"
	"io"

	"github.com/dmitrijs2005/gophbackup/internal/config"
	"github.com/dmitrijs2005/gophbackup/internal/flagx"
	"github.com/spf13/cobra"
)

const configHelp = `Flags are read by internal/config: -c/-config FILE, -d DIR, -s fs|s3,
-fs-dir DIR, -bucket, -region, -endpoint, -prefix, -p N, -z=false, -timeout SEC ...`

// withApp loads config from the raw subcommand args and runs fn.
func withApp(ctx context.Context, args []string, out io.Writer, fn func(context.Context, *App) error) error {
	cfg, err := config.LoadConfigFrom(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// NewRootCommand builds the gophbackup command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophbackup",
		Short:         "Encrypted backup and restore of the local message store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	exportCmd := &cobra.Command{
		Use:                "export",
		Short:              "Back up the data store",
		Long:               "Back up the data store.\n\n" + configHelp,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), args, cmd.OutOrStdout(), func(ctx context.Context, a *App) error {
				return a.Export(ctx)
			})
		},
	}

	restoreCmd := &cobra.Command{
		Use:                "restore",
		Short:              "Replace the data store with the latest backup",
		Long:               "Replace the data store with the latest backup.\n\n" + configHelp,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), args, cmd.OutOrStdout(), func(ctx context.Context, a *App) error {
				return a.Restore(ctx)
			})
		},
	}

	historyCmd := &cobra.Command{
		Use:                "history",
		Short:              "List recent backup jobs (-n N, default 20)",
		Long:               "List recent backup jobs.\n\n" + configHelp,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := flag.NewFlagSet("history", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			limit := fs.Int("n", 20, "number of jobs to list")
			if err := fs.Parse(flagx.FilterArgs(args, []string{"-n"})); err != nil {
				return err
			}
			return withApp(cmd.Context(), args, cmd.OutOrStdout(), func(ctx context.Context, a *App) error {
				return a.History(ctx, *limit)
			})
		},
	}

	root.AddCommand(exportCmd, restoreCmd, historyCmd)
	return root
}
