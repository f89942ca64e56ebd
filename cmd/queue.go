package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/usecase/syncglue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and flush the offline action queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print queued actions",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		return writeJSON(cmd, rt.Queue.Pending())
	}),
}

var queueAddCmd = &cobra.Command{
	Use:   "add <type> <json-payload>",
	Short: "Queue an action (contribution, basket_creation, profile_update)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		args := cmd.Flags().Args()
		if len(args) != 2 {
			return errors.New("type and payload are required")
		}
		actionType, err := offline.ParseActionType(args[0])
		if err != nil {
			return err
		}
		action, err := rt.Queue.AddToQueue(cmd.Context(), actionType, json.RawMessage(args[1]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", action.ID, action.Type)
		return err
	}),
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Replay queued actions, retrying while some still fail",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		res, err := rt.Glue.Flush(cmd.Context())
		if err != nil && !errors.Is(err, syncglue.ErrFailuresRemain) {
			return err
		}
		if werr := writeJSON(cmd, res); werr != nil {
			return werr
		}
		return err
	}),
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errs.Wrap(err, "write output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueProcessCmd)
}
