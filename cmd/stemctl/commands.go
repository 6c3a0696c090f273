package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/makeasinger/stemscore/internal/auth"
	"github.com/makeasinger/stemscore/internal/results"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List job workspaces, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.workspaces()
			if err != nil {
				return err
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No job workspaces")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			var total uint64
			for _, e := range entries {
				size := uint64(0)
				if e.Size > 0 {
					size = uint64(e.Size)
				}
				total += size
				rows = append(rows, []string{
					e.JobID,
					humanize.Time(e.ModTime),
					humanize.Bytes(size),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Job", "Modified", "Size"}, rows, 2))
			fmt.Fprintf(cmd.OutOrStdout(), "%d workspaces, %s total\n", len(entries), humanize.Bytes(total))
			return nil
		},
	}
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove job workspaces older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			store, err := ctx.workspaces()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if dryRun {
				entries, err := store.List()
				if err != nil {
					return err
				}
				cutoff := time.Now().Add(-olderThan)
				n := 0
				for _, e := range entries {
					if e.ModTime.Before(cutoff) {
						fmt.Fprintf(out, "would remove %s (%s)\n", e.JobID, humanize.Time(e.ModTime))
						n++
					}
				}
				fmt.Fprintf(out, "%d workspaces would be removed\n", n)
				return nil
			}

			res, err := store.Reap(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintln(out, "Another purge is running; nothing removed")
				return nil
			}
			for _, id := range res.Removed {
				fmt.Fprintf(out, "removed %s\n", id)
			}
			for _, re := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove %s: %v\n", re.JobID, re.Err)
			}
			fmt.Fprintf(out, "%d workspaces removed\n", len(res.Removed))
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d workspaces could not be removed", len(res.Errors))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Remove workspaces last modified before this age")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be removed without deleting")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <jobId> <path>",
		Short: "Resolve a result path the way the retrieval endpoint does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.workspaces()
			if err != nil {
				return err
			}
			path, err := results.NewGateway(store).Resolve(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var userID, email, secret string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the submission routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := ctx.config()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
			}
			if secret == "" {
				return errors.New("no signing secret: set JWT_SECRET or pass --secret")
			}
			token, err := auth.IssueToken(userID, email, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email to embed in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
