// Command fxfsd mounts an fxfs image and serves the §4.6 handle
// protocol over a Unix-domain socket, one connection at a time,
// matching the engine's single-threaded cooperative concurrency model
// (spec.md §5).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fxfs/fxfs/internal/blockdev"
	"github.com/fxfs/fxfs/internal/fsys"
	"github.com/fxfs/fxfs/internal/fxlog"
	"github.com/fxfs/fxfs/internal/handleserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var socketPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "fxfsd <image-path>",
		Short: "Mount an fxfs image and serve the handle protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], socketPath, debug)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "/tmp/fxfsd.sock", "Unix-domain socket to listen on")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every request at debug level, mirroring the teacher's -debug MountState flag")
	return cmd
}

func run(imagePath, socketPath string, debug bool) error {
	log := fxlog.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	dev, err := blockdev.Open(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	filesystem, err := fsys.Mount(dev, log)
	if err != nil {
		return err
	}

	os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()
	log.WithField("socket", socketPath).Info("fxfsd: listening")

	srv := handleserver.New(filesystem, log)
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		log.Debug("fxfsd: client connected")
		if err := srv.Serve(conn); err != nil {
			log.WithError(err).Warn("fxfsd: connection ended with error")
		}
		conn.Close()
	}
}
