// Command fxcli is a thin client for the §4.6/§6 handle protocol,
// speaking it over a Unix-domain socket (SPEC_FULL.md §4 "cmd/fxcli"):
// spec.md treats every non-engine consumer as an external client that
// issues the protocol's messages, and this gives the module a runnable
// example of one, the way the teacher repo ships example/hello and
// example/loopback alongside its library packages.
package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/fxfs/fxfs/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var socketPath string
	root := &cobra.Command{
		Use:   "fxcli",
		Short: "Talk to a running fxfsd over its Unix-domain socket",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/fxfsd.sock", "Unix-domain socket fxfsd is listening on")

	root.AddCommand(
		openCmd(&socketPath),
		createCmd(&socketPath),
		readCmd(&socketPath),
		writeCmd(&socketPath),
		statCmd(&socketPath),
		rmCmd(&socketPath),
		lsCmd(&socketPath),
		ctlCmd(&socketPath),
	)
	return root
}

func dial(socketPath string) (net.Conn, error) {
	return net.Dial("unix", socketPath)
}

func roundTrip(conn net.Conn, tag uint32, data []byte) (proto.Message, error) {
	if err := proto.WriteMessage(conn, proto.Message{Tag: tag, Data: data}); err != nil {
		return proto.Message{}, err
	}
	resp, err := proto.ReadMessage(conn)
	if err != nil {
		return proto.Message{}, err
	}
	if resp.Tag == proto.RError {
		return proto.Message{}, fmt.Errorf("fxcli: server returned R_ERROR")
	}
	return resp, nil
}

func openHandle(conn net.Conn, path string) (uint32, error) {
	resp, err := roundTrip(conn, proto.TOpen, []byte(path))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(resp.Data), nil
}

func openCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Open a path, printing the allocated handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			h, err := openHandle(conn, args[0])
			if err != nil {
				return err
			}
			fmt.Println(h)
			return nil
		},
	}
}

func createCmd(socketPath *string) *cobra.Command {
	var asDir bool
	cmd := &cobra.Command{
		Use:   "create <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Create a file or directory, printing the allocated handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			var flags uint32
			if asDir {
				flags = proto.CreateDir
			}
			req := make([]byte, 4+len(args[0]))
			binary.LittleEndian.PutUint32(req[0:4], flags)
			copy(req[4:], args[0])

			resp, err := roundTrip(conn, proto.TCreate, req)
			if err != nil {
				return err
			}
			fmt.Println(binary.LittleEndian.Uint32(resp.Data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asDir, "dir", false, "create a directory instead of a regular file")
	return cmd
}

func readCmd(socketPath *string) *cobra.Command {
	var offset, count uint32
	cmd := &cobra.Command{
		Use:   "read <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Open a path and read count bytes at offset, writing them to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := openHandle(conn, args[0])
			if err != nil {
				return err
			}
			req := make([]byte, 12)
			binary.LittleEndian.PutUint32(req[0:4], h)
			binary.LittleEndian.PutUint32(req[4:8], offset)
			binary.LittleEndian.PutUint32(req[8:12], count)
			resp, err := roundTrip(conn, proto.TRead, req)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(resp.Data)
			return err
		},
	}
	cmd.Flags().Uint32Var(&offset, "offset", 0, "byte (or, for a directory, record) offset to read from")
	cmd.Flags().Uint32Var(&count, "count", proto.MaxMessageData, "maximum bytes to read")
	return cmd
}

func writeCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Open a path and write stdin to it, printing bytes_written",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := openHandle(conn, args[0])
			if err != nil {
				return err
			}
			payload, err := os.ReadFile("/dev/stdin")
			if err != nil {
				return err
			}
			req := make([]byte, 4+len(payload))
			binary.LittleEndian.PutUint32(req[0:4], h)
			copy(req[4:], payload)
			resp, err := roundTrip(conn, proto.TWrite, req)
			if err != nil {
				return err
			}
			fmt.Println(binary.LittleEndian.Uint32(resp.Data))
			return nil
		},
	}
	return cmd
}

func statCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Open a path and print its size and file type",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := openHandle(conn, args[0])
			if err != nil {
				return err
			}
			req := make([]byte, 4)
			binary.LittleEndian.PutUint32(req, h)
			resp, err := roundTrip(conn, proto.TStat, req)
			if err != nil {
				return err
			}
			stat := proto.DecodeStat(resp.Data)
			kind := "regular"
			if stat.FileType == proto.FileTypeDirectory {
				kind = "directory"
			}
			fmt.Printf("size=%d type=%s\n", stat.Size, kind)
			return nil
		},
	}
}

func rmCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Args:  cobra.ExactArgs(1),
		Short: "Remove a path",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			_, err = roundTrip(conn, proto.TRemove, []byte(args[0]))
			return err
		},
	}
}

func lsCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Args:  cobra.ExactArgs(1),
		Short: "List a directory's entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := openHandle(conn, args[0])
			if err != nil {
				return err
			}
			req := make([]byte, 12)
			binary.LittleEndian.PutUint32(req[0:4], h)
			binary.LittleEndian.PutUint32(req[8:12], proto.MaxMessageData)
			resp, err := roundTrip(conn, proto.TRead, req)
			if err != nil {
				return err
			}
			for off := 0; off+proto.DirRecordLen <= len(resp.Data); off += proto.DirRecordLen {
				rec := proto.DecodeDirRecord(resp.Data[off : off+proto.DirRecordLen])
				kind := "f"
				if rec.FileType == proto.FileTypeDirectory {
					kind = "d"
				}
				fmt.Printf("%s %10d %s\n", kind, rec.Size, rec.Name)
			}
			return nil
		},
	}
}

func ctlCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ctl",
		Short: "Print filesystem statistics from the control file",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := openHandle(conn, "ctl")
			if err != nil {
				return err
			}
			req := make([]byte, 12)
			binary.LittleEndian.PutUint32(req[0:4], h)
			binary.LittleEndian.PutUint32(req[8:12], proto.MaxMessageData)
			resp, err := roundTrip(conn, proto.TRead, req)
			if err != nil {
				return err
			}
			fmt.Print(string(resp.Data))
			return nil
		},
	}
}
