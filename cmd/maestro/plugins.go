package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FranksOps/maestro/internal/storage"
)

func newPluginsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage the plugin catalog",
	}
	cmd.AddCommand(newPluginsSyncCmd(opts), newPluginsListCmd(opts))
	return cmd
}

func newPluginsSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upsert the builtin plugins and the configured catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the app syncs the catalog.
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.ListPlugins(cmd.Context(), storage.PluginFilter{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d plugins in catalog\n", len(records))
			return nil
		},
	}
}

func newPluginsListCmd(opts *rootOptions) *cobra.Command {
	var kind string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugin records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.ListPlugins(cmd.Context(), storage.PluginFilter{
				Kind:       storage.PluginKind(strings.ToUpper(kind)),
				ActiveOnly: activeOnly,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tNAME\tTYPE\tDATA\tACTIVE\tDEFAULT")
			for _, p := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
					p.ID, p.Kind, p.Name, p.Type, p.DataType, p.Active, p.IsDefault)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "FETCHER, POST_PROCESSOR, FILTER or CLASSIFIER")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active plugins")
	return cmd
}
