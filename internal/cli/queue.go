// Package cli implements the newsletter command line.
//
// This file implements "queue stats", a one-line summary of the delivery
// queue for operators: pending tasks, tasks due now, tasks that already
// failed at least once and the age of the oldest task. The output is plain
// key=value text so it can be grepped or scraped by shell scripts.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-newsletter/internal/repo"
)

// NewQueueCommand groups delivery queue inspection commands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the delivery queue",
	}
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	return cmd
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var issueID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pending, due and retrying delivery counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts.Config)
			if err != nil {
				return err
			}
			defer closeDB(db)

			st, err := repo.DeliveryStats(cmd.Context(), db, issueID, time.Now())
			if err != nil {
				return err
			}
			oldest := "-"
			if st.Oldest != nil {
				oldest = st.Oldest.UTC().Format(time.RFC3339)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pending=%d due=%d retrying=%d oldest=%s\n",
				st.Pending, st.Due, st.Retrying, oldest)
			return err
		},
	}

	cmd.Flags().StringVar(&issueID, "issue", "", "limit to one issue id")
	return cmd
}
