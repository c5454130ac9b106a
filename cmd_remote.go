package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"drivesync/internal/config"
	"drivesync/internal/fs"
	syncer "drivesync/internal/sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// withRemote 加载配置并打开远端存储, 然后执行 fn
func withRemote(ctx context.Context, flags *globalFlags, fn func(*config.Config, fs.RemoteStore) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	remote, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRemote()
	return fn(cfg, remote)
}

func newResolveCmd(flags *globalFlags) *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "resolve NAME",
		Short: "查找或创建远端文件夹, 输出其 id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), flags, func(cfg *config.Config, remote fs.RemoteStore) error {
				parent := parentID
				if parent == "" {
					parent = cfg.Remote.ParentID
				}
				id, err := syncer.NewResolver(remote).ResolveOrCreateFolder(cmd.Context(), args[0], parent)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "父文件夹 id (默认 remote.parent_id)")
	return cmd
}

func newLsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [FOLDER_ID]",
		Short: "列出远端文件夹的直接子项",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), flags, func(cfg *config.Config, remote fs.RemoteStore) error {
				folderID := cfg.Remote.ParentID
				if len(args) == 1 {
					folderID = args[0]
				}
				items, err := remote.ListChildren(cmd.Context(), folderID)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TYPE\tSIZE\tMODIFIED\tID\tNAME")
				for _, it := range items {
					kind, size := "file", humanize.Bytes(uint64(it.Size))
					if it.IsFolder {
						kind, size = "dir", "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", kind, size, it.ModifiedTime, it.ID, it.Name)
				}
				return w.Flush()
			})
		},
	}
}

func newRmCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "删除远端文件或文件夹 (包括其全部内容)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), flags, func(_ *config.Config, remote fs.RemoteStore) error {
				if err := remote.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}
