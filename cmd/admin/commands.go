package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nikitkaralius/curatorbot/internal/app"
	"github.com/nikitkaralius/curatorbot/internal/config"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/polls"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

// env is what every subcommand works against.
type env struct {
	cfg      *config.Config
	docs     storage.Documents
	registry *members.Registry
	polls    *polls.Manager
}

func (e *env) Close() error { return e.docs.Close() }

func openEnv(ctx context.Context, envDir string) (*env, error) {
	cfg, err := config.Load(envDir)
	if err != nil {
		return nil, err
	}
	logging.BootstrapLogger(logging.Options{Level: "warn", Env: cfg.Env, RollbarToken: cfg.RollbarToken})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	docs, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	registry := members.NewRegistry(docs, cfg.AdminID)
	if err := registry.Seed(ctx); err != nil {
		docs.Close()
		return nil, err
	}
	return &env{cfg: cfg, docs: docs, registry: registry, polls: polls.NewManager(docs)}, nil
}

// withEnv opens the store around fn.
func withEnv(envDir *string, fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx, *envDir)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(ctx, e, cmd, args)
	}
}

func newRootCmd() *cobra.Command {
	var envDir string
	root := &cobra.Command{
		Use:          "curatorbot-admin",
		Short:        "Inspect and manage curator bot data",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envDir, "env-dir", ".", "Directory with .env files")

	root.AddCommand(
		newGroupsCmd(&envDir),
		newCuratorsCmd(&envDir),
		newMembersCmd(&envDir),
		newStatusCmd(&envDir),
		newExportCmd(&envDir),
	)
	return root
}

func newGroupsCmd(envDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups with their members and curators",
		Args:  cobra.NoArgs,
		RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			groups, err := e.registry.Groups(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tMEMBERS\tCURATORS")
			for _, g := range groups {
				roster, err := e.registry.Members(ctx, g.Key)
				if err != nil {
					return err
				}
				curators, err := e.registry.Curators(ctx, g.Key)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", g.Key, g.Name, len(roster), curators)
			}
			return w.Flush()
		}),
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func newCuratorsCmd(envDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curators",
		Short: "Manage the curator table",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <group> <user-id>",
			Short: "Grant curator rights for a group",
			Args:  cobra.ExactArgs(2),
			RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[1])
				if err != nil {
					return err
				}
				if err := e.registry.AddCurator(ctx, args[0], id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d is now a curator of %s\n", id, args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <group> <user-id>",
			Short: "Revoke curator rights for a group",
			Args:  cobra.ExactArgs(2),
			RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[1])
				if err != nil {
					return err
				}
				removed, err := e.registry.RemoveCurator(ctx, args[0], id)
				if err != nil {
					return err
				}
				if !removed {
					return errors.Errorf("%d is not a curator of %s", id, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d is no longer a curator of %s\n", id, args[0])
				return nil
			}),
		},
	)
	return cmd
}

func newMembersCmd(envDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "members <group>",
		Short: "List the members of a group in join order",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			if _, err := e.registry.Group(ctx, args[0]); err != nil {
				return err
			}
			roster, err := e.registry.Members(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tHANDLE\tJOINED")
			for _, m := range roster {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, m.DisplayName(), m.Username, m.JoinedAt.Local().Format(polls.TimeLayout))
			}
			return w.Flush()
		}),
	}
}

func newStatusCmd(envDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and poll counts",
		Args:  cobra.NoArgs,
		RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			all, err := e.polls.AllPolls(ctx)
			if err != nil {
				return err
			}
			active, err := e.polls.ActivePolls(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "env:        %s\n", e.cfg.Env)
			fmt.Fprintf(out, "storage:    %s\n", e.cfg.Storage)
			fmt.Fprintf(out, "scheduler:  %s\n", e.cfg.Scheduler)
			fmt.Fprintf(out, "admin id:   %d\n", e.cfg.AdminID)
			fmt.Fprintf(out, "bot token:  %v\n", e.cfg.BotToken != "")
			fmt.Fprintf(out, "polls:      %d (%d active)\n", len(all), len(active))
			for _, p := range active {
				fmt.Fprintf(out, "  %s  %s  ends %s  %d answers\n",
					p.ID, p.Group, p.EndsAt().Local().Format(polls.TimeLayout), len(p.Responses))
			}
			return nil
		}),
	}
}

func newExportCmd(envDir *string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <poll-id>",
		Short: "Write a poll's attendance CSV",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(envDir, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			p, err := e.polls.GetPoll(ctx, args[0])
			if err != nil {
				return err
			}
			roster, err := e.registry.Members(ctx, p.Group)
			if err != nil {
				return err
			}
			data, err := polls.ExportCSV(p, roster)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrapf(err, "create %s", output)
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(data); err != nil {
				return errors.Wrap(err, "write csv")
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", len(roster), output)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write instead of stdout")
	return cmd
}
