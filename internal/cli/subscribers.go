// Package cli implements the newsletter command line.
//
// This file contains the subscribers commands used to seed and confirm
// entries of the subscriber directory. The API has no sign-up endpoint, so
// these commands are how subscribers get into the directory.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/repo"
)

// SubscriberAddOptions holds flags for "subscribers add".
type SubscriberAddOptions struct {
	*RootOptions
	Name      string
	Confirmed bool
}

// NewSubscribersCommand groups subscriber maintenance commands.
func NewSubscribersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Manage the subscriber directory",
	}
	cmd.AddCommand(newSubscribersAddCommand(rootOpts))
	cmd.AddCommand(newSubscribersConfirmCommand(rootOpts))
	return cmd
}

func newSubscribersAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubscriberAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a subscriber",
		Long: `Add a subscriber for local runs. Subscribers start pending confirmation
unless --confirmed is given; only confirmed subscribers receive issues.

Example:
  newsletter subscribers add reader@example.com --name "Ann" --confirmed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := domain.ParseSubscriberEmail(args[0])
			if err != nil {
				return err
			}

			db, err := openDB(opts.Config)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}

			status := domain.SubscriberPendingConfirmation
			if opts.Confirmed {
				status = domain.SubscriberConfirmed
			}
			sub, err := repo.CreateSubscriber(cmd.Context(), db, addr.String(), opts.Name, status)
			if err != nil {
				return fmt.Errorf("add %s: %w", addr, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", sub.ID, sub.Email, sub.Status)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "subscriber display name")
	cmd.Flags().BoolVar(&opts.Confirmed, "confirmed", false, "mark the subscriber as confirmed")
	return cmd
}

func newSubscribersConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <email>",
		Short: "Confirm a pending subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts.Config)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := repo.ConfirmSubscriber(cmd.Context(), db, args[0]); err != nil {
				return fmt.Errorf("confirm %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], domain.SubscriberConfirmed)
			return err
		},
	}
}
