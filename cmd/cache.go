package cmd

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
)

var cachePurgeAll bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge response cache generations",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache generations and their entry counts",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		ctx := cmd.Context()
		names, err := rt.Caches.Keys(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CACHE\tENTRIES")
		for _, name := range names {
			c, err := rt.Caches.Open(ctx, name)
			if err != nil {
				return err
			}
			keys, err := c.Keys(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\n", name, len(keys))
		}
		if err := tw.Flush(); err != nil {
			return errs.Wrap(err, "write cache list")
		}
		return nil
	}),
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge [name...]",
	Short: "Delete named caches, or every cache outside the current version",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		ctx := cmd.Context()
		args := cmd.Flags().Args()

		targets := args
		if len(targets) == 0 {
			names, err := rt.Caches.Keys(ctx)
			if err != nil {
				return err
			}
			allow := offline.CacheAllowList(rt.Worker.Status().Version)
			for _, name := range names {
				if cachePurgeAll || !slices.Contains(allow, name) {
					targets = append(targets, name)
				}
			}
		}

		for _, name := range targets {
			removed, err := rt.Caches.Delete(ctx, name)
			if err != nil {
				return errs.Wrapf(err, "delete cache %s", name)
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cachePurgeCmd)
	cachePurgeCmd.Flags().BoolVar(&cachePurgeAll, "all", false, "Also delete the current version's caches")
}
