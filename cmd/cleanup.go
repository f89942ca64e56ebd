package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupMaxAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stored records older than the retention window",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		maxAge := cleanupMaxAge
		if maxAge <= 0 {
			maxAge = rt.App.Config.Storage.Retention
		}
		report, err := rt.Memory.CleanupOldData(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(),
			"removed %d records older than %s (baskets=%d images=%d large_images=%d preferences=%d)\n",
			report.Total(), maxAge, report.Baskets, report.Images, report.LargeImages, report.Preferences)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Retention window (defaults to storage.retention)")
}
