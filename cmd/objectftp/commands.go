package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/session"
	"github.com/objectfs/objectftp/pkg/health"
	"github.com/objectfs/objectftp/pkg/utils"
)

func newLsCmd(flags *globalFlags) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				out := cmd.OutOrStdout()
				if !long {
					names, err := sess.FS().ListDir(ctx, p)
					if err != nil {
						return err
					}
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}
				entries, err := sess.FS().ListDirWithStat(ctx, p)
				if err != nil {
					return err
				}
				printEntries(out, entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show mode, size and modification time")
	return cmd
}

func printEntries(out io.Writer, entries []cache.Entry) {
	tw := tabwriter.NewWriter(out, 0, 4, 1, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", e.Mode(), e.Size(), e.ModTime().Format("Jan _2 15:04"), e.Name())
	}
	_ = tw.Flush()
}

func newStatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show what the gateway reports for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				e, err := sess.FS().Stat(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "name:     %s\n", e.Name())
				fmt.Fprintf(out, "mode:     %s\n", e.Mode())
				fmt.Fprintf(out, "size:     %d (%s)\n", e.Size(), utils.FormatBytes(e.Size()))
				fmt.Fprintf(out, "modified: %s\n", e.ModTime().UTC().Format("2006-01-02 15:04:05"))
				if e.Hash != "" {
					fmt.Fprintf(out, "md5:      %s\n", e.Hash)
				}
				return nil
			})
		},
	}
}

// pathCmd builds a subcommand applying op to each path argument.
func pathCmd(flags *globalFlags, use, short string, op func(ctx context.Context, sess *session.Session, p string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <path>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				for _, p := range args {
					if err := op(ctx, sess, p); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newMkdirCmd(flags *globalFlags) *cobra.Command {
	return pathCmd(flags, "mkdir", "Create a container or directory", func(ctx context.Context, sess *session.Session, p string) error {
		return sess.FS().Mkdir(ctx, p)
	})
}

func newRmdirCmd(flags *globalFlags) *cobra.Command {
	return pathCmd(flags, "rmdir", "Remove an empty container or directory", func(ctx context.Context, sess *session.Session, p string) error {
		return sess.FS().Rmdir(ctx, p)
	})
}

func newRmCmd(flags *globalFlags) *cobra.Command {
	return pathCmd(flags, "rm", "Remove a file", func(ctx context.Context, sess *session.Session, p string) error {
		return sess.FS().Remove(ctx, p)
	})
}

func newMvCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename a file, directory or empty container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				return sess.FS().Rename(ctx, args[0], args[1])
			})
		},
	}
}

func newPutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload a local file, \"-\" reads standard input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				dst, err := sess.FS().Open(ctx, args[1], os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
				if err != nil {
					return err
				}
				n, err := io.Copy(dst, src)
				if err != nil {
					_ = dst.Close()
					return err
				}
				if err := dst.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s to %s\n", utils.FormatBytes(n), dst.Name())
				return nil
			})
		},
	}
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	var offset int64
	cmd := &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "Download a file, to standard output when no local path is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				src, err := sess.FS().Open(ctx, args[0], os.O_RDONLY)
				if err != nil {
					return err
				}
				defer src.Close()
				if offset > 0 {
					if _, err := src.Seek(offset, io.SeekStart); err != nil {
						return err
					}
				}

				var dst io.Writer = cmd.OutOrStdout()
				if len(args) == 2 {
					f, err := os.Create(args[1])
					if err != nil {
						return err
					}
					defer f.Close()
					dst = f
				}
				_, err = io.Copy(dst, src)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "start reading at this byte offset (REST)")
	return cmd
}

func newMD5Cmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "md5 <path>...",
		Short: "Print the stored MD5 of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, sess *session.Session) error {
				for _, p := range args {
					sum, err := sess.FS().MD5(ctx, p)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, p)
				}
				return nil
			})
		},
	}
}

func newMetricsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Serve the metrics endpoint until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer e.close(context.WithoutCancel(ctx))

			if !e.cfg.Metrics.Enabled {
				return fmt.Errorf("metrics are disabled in the configuration")
			}
			if err := e.adapter.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s\n", e.adapter.Collector().Addr())
			<-ctx.Done()
			return nil
		},
	}
}

// userAdder is implemented by backends that keep their own user table.
type userAdder interface {
	AddUser(ctx context.Context, user, secret string) error
}

func newUserAddCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "useradd <name> <secret>",
		Short: "Create or reset a user of the sqlite backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer e.close(ctx)

			users, ok := e.adapter.Backend().(userAdder)
			if !ok {
				return fmt.Errorf("backend %s does not manage users", e.adapter.Backend().Name())
			}
			if err := users.AddUser(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s saved\n", args[0])
			return nil
		},
	}
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the readiness checks once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer e.close(ctx)

			report := e.adapter.Health().Check(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.State == health.StateUnavailable {
				return fmt.Errorf("objectftp is %s", report.State)
			}
			return nil
		},
	}
}
