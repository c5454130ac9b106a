package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "执行一次同步后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			lock, err := acquireLock(cfg.System.LockFile)
			if err != nil {
				return err
			}
			defer releaseLock(lock)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"uploaded %d, updated %d, downloaded %d, folders created %d, unchanged %d (up %s, down %s)\n",
				res.Uploaded, res.Updated, res.Downloaded, res.FoldersCreated, res.Unchanged,
				humanize.Bytes(uint64(res.BytesUp)), humanize.Bytes(uint64(res.BytesDown)),
			)
			if err := res.Err(); err != nil {
				return fmt.Errorf("%d transfers failed: %w", len(res.Failures), err)
			}
			return nil
		},
	}
}
