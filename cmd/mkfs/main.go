// Command mkfs formats a new fxfs image file: both superblocks, the
// free-space bitmap and an empty root directory (spec.md §2 item 7,
// §6.4). It is the only place a new image's geometry is chosen, the
// way the teacher repo keeps one-shot setup concerns out of the
// long-lived mount path.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fxfs/fxfs/internal/blockdev"
	fxfsys "github.com/fxfs/fxfs/internal/fsys"
	"github.com/fxfs/fxfs/internal/fxlog"
	"github.com/fxfs/fxfs/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var sizeMB uint64
	var prepopulate string

	cmd := &cobra.Command{
		Use:   "mkfs <image-path>",
		Short: "Format a new fxfs image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], sizeMB, prepopulate)
		},
	}
	cmd.Flags().Uint64Var(&sizeMB, "size-mb", 16, "image size in megabytes")
	cmd.Flags().StringVar(&prepopulate, "prepopulate", "", "host directory to copy regular files from into the new image")
	return cmd
}

func run(path string, sizeMB uint64, prepopulate string) error {
	log := fxlog.New()
	totalBlocks := sizeMB * 1024 * 1024 / proto.BlockSize
	if totalBlocks < 4 {
		return fmt.Errorf("mkfs: --size-mb %d is too small for the superblocks, bitmap and root leaf", sizeMB)
	}

	dev, err := blockdev.Create(path, totalBlocks)
	if err != nil {
		return err
	}
	defer dev.Close()

	filesystem, err := fxfsys.Format(dev, totalBlocks, log)
	if err != nil {
		return err
	}
	log.WithField("blocks", totalBlocks).WithField("image", path).Info("mkfs: formatted")

	if prepopulate != "" {
		if err := prepopulateTree(filesystem, prepopulate); err != nil {
			return err
		}
	}
	return nil
}

// prepopulateTree recursively copies prepopulate's regular files (and
// the directories that contain them) into the freshly formatted
// image, rooted at "/" (SPEC_FULL.md §4 "mkfs -prepopulate",
// grounded on dargueta-disko's FormatImageImplementer walking a host
// source tree at format time).
func prepopulateTree(filesystem *fxfsys.Filesystem, root string) error {
	return filepath.WalkDir(root, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		imagePath := "/" + filepath.ToSlash(rel)

		if d.IsDir() {
			parent, name, err := filesystem.ResolveParent(imagePath)
			if err != nil {
				return err
			}
			_, err = filesystem.Create(parent, name, true)
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		parent, name, err := filesystem.ResolveParent(imagePath)
		if err != nil {
			return err
		}
		inode, err := filesystem.Create(parent, name, false)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		_, err = filesystem.Write(inode, 0, data)
		return err
	})
}
