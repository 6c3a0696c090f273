package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makeasinger/stemscore/internal/config"
	"github.com/makeasinger/stemscore/internal/workspace"
)

// commandContext lazily resolves configuration and the workspace store so
// subcommands that need neither stay cheap.
type commandContext struct {
	storageFlag *string
	cfg         *config.Config
	store       *workspace.FSStore
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) workspaces() (*workspace.FSStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	base := *c.storageFlag
	if base == "" {
		cfg, err := c.config()
		if err != nil {
			return nil, err
		}
		base = cfg.Storage.Base
	}
	store, err := workspace.NewFSStore(base)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func newRootCommand() *cobra.Command {
	var storageFlag string
	ctx := &commandContext{storageFlag: &storageFlag}

	rootCmd := &cobra.Command{
		Use:           "stemctl",
		Short:         "Inspect and maintain stemscore job workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&storageFlag, "storage", "", "Storage base directory (defaults to STORAGE_BASE)")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
