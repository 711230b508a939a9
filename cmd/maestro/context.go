package main

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/orchestrator"
	"github.com/FranksOps/maestro/internal/report"
	"github.com/FranksOps/maestro/internal/storage"
)

func newContextCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "context",
		Aliases: []string{"ctx"},
		Short:   "Create, run and inspect search contexts",
	}
	cmd.AddCommand(
		newContextCreateCmd(opts),
		newContextListCmd(opts),
		newContextConfigureCmd(opts),
		newContextRunCmd(opts, "start <id>", "Run the pipeline from fetch", 1,
			func(ctx context.Context, a *app, args []string) error {
				return a.orch.Start(ctx, args[0])
			}),
		newContextRunCmd(opts, "resume <id> <stage>", "Re-run the pipeline from a stage", 2,
			func(ctx context.Context, a *app, args []string) error {
				stage, err := lifecycle.ParseStage(args[1])
				if err != nil {
					return err
				}
				return a.orch.ResumeFrom(ctx, args[0], stage)
			}),
		newContextRunCmd(opts, "review <id>", "Complete the review and continue with post-processing", 1,
			func(ctx context.Context, a *app, args []string) error {
				return a.orch.CompleteReview(ctx, args[0])
			}),
		newContextStopCmd(opts),
		newContextExcludeCmd(opts),
		newContextStatusCmd(opts),
		newContextExportCmd(opts),
		newContextSummaryCmd(opts),
		newContextLogsCmd(opts),
		newContextImportCmd(opts),
		newContextDeleteCmd(opts),
	)
	return cmd
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newContextCreateCmd(opts *rootOptions) *cobra.Command {
	var in orchestrator.NewContext
	var ownerKind string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a search context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			in.Owner.Kind = storage.OwnerKind(ownerKind)
			return withApp(cmd, opts, func(a *app) error {
				sc, err := a.svc.CreateContext(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sc)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Code, "code", "", "explicit code, derived from the name when empty")
	f.StringVar(&in.Description, "description", "", "free text description")
	f.StringVar(&ownerKind, "owner-kind", string(storage.OwnerUser), "user or organization")
	f.StringVar(&in.Owner.ID, "owner", "", "owner identifier")
	f.StringVar(&in.CreatorID, "creator", "", "creating user, when the owner is an organization")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newContextListCmd(opts *rootOptions) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List search contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				contexts, err := a.store.ListContexts(cmd.Context(), storage.ContextFilter{
					Status: lifecycle.Status(strings.ToUpper(status)),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCODE\tOWNER\tSTATUS\tITERATIONS")
				for _, sc := range contexts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", sc.ID, sc.Code, sc.Owner, sc.Status, sc.Iterations)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only contexts in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows, 0 for all")
	return cmd
}

func newContextConfigureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <id> <config.json>",
		Short: "Store the configuration of a context, read from a JSON file or - for stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var cfg storage.Configuration
			dec := json.NewDecoder(r)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				return fmt.Errorf("decode configuration: %w", err)
			}
			return withApp(cmd, opts, func(a *app) error {
				return a.svc.Configure(cmd.Context(), args[0], &cfg)
			})
		},
	}
}

// newContextRunCmd builds a command that begins a chain in-process and
// waits for it to settle.
func newContextRunCmd(opts *rootOptions, use, short string, nargs int, begin func(context.Context, *app, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				a.start(ctx)
				if err := begin(ctx, a, args); err != nil {
					return err
				}
				a.orch.Wait()

				st, err := a.svc.Status(context.WithoutCancel(ctx), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d objects, %d unfiltered)\n",
					st.Context.Code, st.Context.Status, st.Objects, st.Unfiltered)
				return nil
			})
		},
	}
}

func newContextStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Ask a running context to stop at the next stage boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return a.orch.Stop(cmd.Context(), args[0])
			})
		},
	}
}

func newContextExcludeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exclude <id> <object-id>...",
		Short: "Remove reviewed objects from the datastream",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				n, err := a.orch.ExcludeObjects(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d objects\n", n)
				return nil
			})
		},
	}
}

func newContextStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				st, err := a.svc.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newContextExportCmd(opts *rootOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the unfiltered datastream as JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				w := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return a.svc.ExportResults(cmd.Context(), args[0], format, w)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	return cmd
}

func newContextSummaryCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Summarize the datastream of a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				summary, err := a.svc.Summary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				switch format {
				case "text":
					return report.WriteText(w, summary)
				case "html":
					return report.WriteHTML(w, summary)
				case "json":
					return report.WriteJSON(w, summary)
				}
				return fmt.Errorf("%w: %q", orchestrator.ErrUnknownFormat, format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text, html or json")
	return cmd
}

func newContextLogsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id> <stage>",
		Short: "Print the log of one stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := lifecycle.ParseStage(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				lines, err := a.svc.Logs(cmd.Context(), args[0], stage)
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Fprintln(cmd.OutOrStdout(), l)
				}
				return nil
			})
		},
	}
}

func newContextImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <id> <archive.zip>",
		Short: "Seed the datastream from a zip archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			zr, err := zip.OpenReader(args[1])
			if err != nil {
				return err
			}
			defer zr.Close()
			return withApp(cmd, opts, func(a *app) error {
				n, err := a.svc.ImportArchive(cmd.Context(), args[0], &zr.Reader)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d objects\n", n)
				return nil
			})
		},
	}
}

func newContextDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a context with its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return a.svc.DeleteContext(cmd.Context(), args[0])
			})
		},
	}
}
