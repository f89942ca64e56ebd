package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"stashworker/internal/errs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker lifecycle commands",
}

var workerInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the manifest into static-<version>",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		if err := rt.Worker.Install(cmd.Context()); err != nil {
			return err
		}
		st := rt.Worker.Status()
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "installed %s (%d entries)\n", st.Version, st.ManifestSize)
		return err
	}),
}

var workerActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Install and activate the current version, purging older caches",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		ctx := cmd.Context()
		if err := rt.Worker.Install(ctx); err != nil {
			return err
		}
		if err := rt.Worker.Activate(ctx); err != nil {
			return err
		}
		names, err := rt.Caches.Keys(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "activated %s, caches: %v\n", rt.Worker.Status().Version, names)
		return err
	}),
}

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print worker version and stored cache generations",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		names, err := rt.Caches.Keys(cmd.Context())
		if err != nil {
			return err
		}
		out := struct {
			Worker any      `json:"worker"`
			Caches []string `json:"caches"`
		}{Worker: rt.Worker.Status(), Caches: names}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return errs.Wrap(err, "write status")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerInstallCmd, workerActivateCmd, workerStatusCmd)
}
