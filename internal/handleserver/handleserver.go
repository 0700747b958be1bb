// Package handleserver implements the single-threaded cooperative
// protocol loop of spec.md §4.6 and §5: it binds opaque 32-bit handles
// to (inode, write_cursor) pairs, dispatches T_OPEN/T_CREATE/T_READ/
// T_WRITE/T_CLOSE/T_STAT/T_REMOVE over one bidirectional
// io.ReadWriter, and answers every request with exactly one response
// before reading the next — mirroring the teacher's single in-flight
// request per connection in fuse/mountstate.go, generalized from a
// kernel /dev/fuse channel to an arbitrary framed transport
// (internal/proto.ReadMessage/WriteMessage).
package handleserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/fxfs/fxfs/internal/fsys"
	"github.com/fxfs/fxfs/internal/fxerr"
	"github.com/fxfs/fxfs/internal/fxlog"
	"github.com/fxfs/fxfs/internal/proto"
)

// controlPath is the literal client-facing name of the sentinel
// control file (spec.md §4.6 "Control file").
const controlPath = "ctl"

type handle struct {
	inode  uint64
	cursor uint64
	active bool
}

// Server dispatches requests against one mounted filesystem. It is
// not safe for concurrent use from multiple goroutines — spec.md §5
// requires exactly one request in flight at a time, which Serve
// enforces simply by never starting request N+1's processing before
// request N's reply has been written.
type Server struct {
	fs      *fsys.Filesystem
	log     logrus.FieldLogger
	handles [proto.MaxHandles + 1]handle // index 0 is the reserved-invalid handle
	reqID   uint64
}

// New builds a Server dispatching against fs. A nil log builds one
// with fxlog.New().
func New(fs *fsys.Filesystem, log logrus.FieldLogger) *Server {
	if log == nil {
		log = fxlog.New()
	}
	return &Server{fs: fs, log: log}
}

// Serve runs the request/response loop against rw until a read on rw
// returns io.EOF (clean client disconnect, not an error) or a
// transport-level error occurs.
func (s *Server) Serve(rw io.ReadWriter) error {
	for {
		req, err := proto.ReadMessage(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		s.reqID++
		resp := s.dispatch(req)
		if err := proto.WriteMessage(rw, resp); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(req proto.Message) proto.Message {
	name := opcodeName(req.Tag)
	log := fxlog.Request(s.log, s.reqID, name, -1)

	data, err := s.handle(req)
	if err != nil {
		class, _ := fxerr.ClassOf(err)
		log.WithError(err).WithField("class", class.String()).Debug("handleserver: request failed")
		return proto.Message{Tag: proto.RError}
	}
	log.Debug("handleserver: request served")
	return proto.Message{Tag: proto.ROK, Data: data}
}

func (s *Server) handle(req proto.Message) ([]byte, error) {
	switch req.Tag {
	case proto.TOpen:
		return s.handleOpen(req.Data)
	case proto.TCreate:
		return s.handleCreate(req.Data)
	case proto.TRead:
		return s.handleRead(req.Data)
	case proto.TWrite:
		return s.handleWrite(req.Data)
	case proto.TClose:
		return s.handleClose(req.Data)
	case proto.TStat:
		return s.handleStat(req.Data)
	case proto.TRemove:
		return s.handleRemove(req.Data)
	default:
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("unknown tag %d", req.Tag), "handleserver: dispatch")
	}
}

// allocHandle picks the lowest free slot among 1..MaxHandles (spec.md
// §4.6 "Handle allocation").
func (s *Server) allocHandle(inode uint64) (uint32, error) {
	for i := 1; i <= proto.MaxHandles; i++ {
		if !s.handles[i].active {
			s.handles[i] = handle{inode: inode, active: true}
			return uint32(i), nil
		}
	}
	return 0, fxerr.Wrap(fxerr.Capacity, fmt.Errorf("all %d handle slots in use", proto.MaxHandles), "handleserver: alloc handle")
}

func (s *Server) activeHandle(h uint32) (*handle, error) {
	if h == 0 || h > proto.MaxHandles {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("handle %d out of range", h), "handleserver: handle lookup")
	}
	slot := &s.handles[h]
	if !slot.active {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("handle %d inactive", h), "handleserver: handle lookup")
	}
	return slot, nil
}

func (s *Server) handleOpen(data []byte) ([]byte, error) {
	path := string(data)
	var inode uint64
	if path == controlPath {
		inode = proto.SentinelInode
	} else {
		var err error
		inode, err = s.fs.Resolve(path)
		if err != nil {
			return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: open")
		}
	}
	h, err := s.allocHandle(inode)
	if err != nil {
		return nil, err
	}
	return u32le(h), nil
}

func (s *Server) handleCreate(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("create request too short"), "handleserver: create")
	}
	flags := binary.LittleEndian.Uint32(data[0:4])
	path := string(data[4:])
	isDir := flags&proto.CreateDir != 0

	parent, name, err := s.fs.ResolveParent(path)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: create: resolve parent")
	}
	inode, err := s.fs.Create(parent, name, isDir)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: create")
	}
	h, err := s.allocHandle(inode)
	if err != nil {
		return nil, err
	}
	return u32le(h), nil
}

func (s *Server) handleRead(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("read request too short"), "handleserver: read")
	}
	h := binary.LittleEndian.Uint32(data[0:4])
	offset := binary.LittleEndian.Uint32(data[4:8])
	count := binary.LittleEndian.Uint32(data[8:12])
	if count > proto.MaxMessageData {
		count = proto.MaxMessageData
	}

	slot, err := s.activeHandle(h)
	if err != nil {
		return nil, err
	}

	if slot.inode == proto.SentinelInode {
		return readControl(s.fs.Stats(), offset, count), nil
	}

	item, err := s.fs.Inode(slot.inode)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: read: stat inode")
	}
	if proto.IsDir(item.Mode) {
		return s.readDirectory(slot.inode, offset, count)
	}

	out, err := s.fs.Read(slot.inode, uint64(offset), count)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Device, err, "handleserver: read")
	}
	return out, nil
}

// readDirectory packs every DIR_ENTRY under dirInode into fixed
// 72-byte records and returns the slice starting at record index
// offset, as many as fit in count bytes (spec.md §4.6 "Reading from a
// handle whose inode is a directory", §6.3).
func (s *Server) readDirectory(dirInode uint64, offset, count uint32) ([]byte, error) {
	var entries []proto.DirEntry
	err := s.fs.List(dirInode, func(e proto.DirEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Device, err, "handleserver: read directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	maxRecords := uint32(len(entries))
	if offset >= maxRecords {
		return nil, nil
	}
	numRecords := count / proto.DirRecordLen
	if offset+numRecords > maxRecords {
		numRecords = maxRecords - offset
	}

	out := make([]byte, 0, numRecords*proto.DirRecordLen)
	for i := uint32(0); i < numRecords; i++ {
		e := entries[offset+i]
		fileType := uint32(proto.FileTypeRegular)
		if e.DType == proto.DTDirectory {
			fileType = proto.FileTypeDirectory
		}
		size := uint32(0)
		if item, err := s.fs.Inode(e.ChildInode); err == nil {
			size = clampU32(item.Size)
		}
		rec := proto.DirRecord{Name: e.Name, FileType: fileType, Size: size}
		out = append(out, rec.Encode()...)
	}
	return out, nil
}

func (s *Server) handleWrite(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("write request too short"), "handleserver: write")
	}
	h := binary.LittleEndian.Uint32(data[0:4])
	payload := data[4:]

	slot, err := s.activeHandle(h)
	if err != nil {
		return nil, err
	}

	if slot.inode == proto.SentinelInode {
		return u32le(uint32(len(payload))), nil
	}

	n, err := s.fs.Write(slot.inode, slot.cursor, payload)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Device, err, "handleserver: write")
	}
	slot.cursor += uint64(n)
	return u32le(uint32(n)), nil
}

// handleClose is idempotent: closing an already-inactive handle (or
// one that was never allocated) within the valid range silently
// succeeds (spec.md §5 "Closing a handle is idempotent").
func (s *Server) handleClose(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("close request too short"), "handleserver: close")
	}
	h := binary.LittleEndian.Uint32(data[0:4])
	if h == 0 || h > proto.MaxHandles {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("handle %d out of range", h), "handleserver: close")
	}
	s.handles[h].active = false
	return nil, nil
}

func (s *Server) handleStat(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fxerr.Wrap(fxerr.Protocol, fmt.Errorf("stat request too short"), "handleserver: stat")
	}
	h := binary.LittleEndian.Uint32(data[0:4])
	slot, err := s.activeHandle(h)
	if err != nil {
		return nil, err
	}

	if slot.inode == proto.SentinelInode {
		return proto.Stat{}.Encode(), nil
	}

	item, err := s.fs.Inode(slot.inode)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: stat")
	}
	fileType := uint32(proto.FileTypeRegular)
	if proto.IsDir(item.Mode) {
		fileType = proto.FileTypeDirectory
	}
	stat := proto.Stat{Size: clampU32(item.Size), FileType: fileType}
	return stat.Encode(), nil
}

// handleRemove also deactivates any handle pointing at the removed
// inode, per spec.md §4.5 "Deactivate any handles pointing at this
// inode".
func (s *Server) handleRemove(data []byte) ([]byte, error) {
	path := string(data)
	removed, err := s.fs.Remove(path)
	if err != nil {
		return nil, fxerr.Wrap(fxerr.Lookup, err, "handleserver: remove")
	}
	for i := 1; i <= proto.MaxHandles; i++ {
		if s.handles[i].active && s.handles[i].inode == removed {
			s.handles[i].active = false
		}
	}
	return nil, nil
}

// readControl renders the control file's three documented lines plus
// the supplemented GENERATION line (spec.md §4.6 "Control file";
// SPEC_FULL.md §4 "Filesystem statistics beyond the control file's
// three lines"), then slices it like any other byte stream. No
// live-inode count is reported.
func readControl(stats fsys.Stats, offset, count uint32) []byte {
	text := fmt.Sprintf("TOTAL=%d\nFREE=%d\nBSIZE=%d\nGENERATION=%d\n",
		stats.TotalBlocks, stats.FreeBlocks, stats.BlockSize, stats.Generation)
	if uint64(offset) >= uint64(len(text)) {
		return nil
	}
	end := uint64(offset) + uint64(count)
	if end > uint64(len(text)) {
		end = uint64(len(text))
	}
	return []byte(text[offset:end])
}

func clampU32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func opcodeName(tag uint32) string {
	switch tag {
	case proto.TOpen:
		return "T_OPEN"
	case proto.TCreate:
		return "T_CREATE"
	case proto.TRead:
		return "T_READ"
	case proto.TWrite:
		return "T_WRITE"
	case proto.TClose:
		return "T_CLOSE"
	case proto.TStat:
		return "T_STAT"
	case proto.TRemove:
		return "T_REMOVE"
	default:
		return "UNKNOWN"
	}
}
