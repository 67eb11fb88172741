package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var expandCmd = &cobra.Command{
	Use:   "expand [event-id [count]]",
	Short: "Run event expansion",
	Long: `Run expansion for one event, or repeatedly against the backend's queue.

With an event id, expands that event once. Without arguments, pulls the
backend's next event needing expansion. A count after the event id (or a
lone count with event id 0) runs that many expansions sequentially, each
pulling the next queued event.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eventID := 0
		count := 1
		if len(args) > 0 {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return eris.Wrapf(err, "invalid event id %q", args[0])
			}
			eventID = id
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return eris.Errorf("invalid run count %q", args[1])
			}
			count = n
		}
		if eventID > 0 && count > 1 {
			return eris.New("run count applies to queue mode; use event id 0")
		}

		o, st, err := buildOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		for i := 0; i < count; i++ {
			result, err := o.Run(ctx, eventID)
			if err != nil {
				return eris.Wrap(err, "expansion run")
			}
			if result.EventID == 0 {
				zap.L().Info("queue empty, stopping", zap.Int("completed", i))
				break
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expandCmd)
}
