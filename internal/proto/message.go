package proto

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Request tags (spec.md §4.6).
const (
	TOpen   = 1
	TCreate = 2
	TRead   = 3
	TWrite  = 4
	TClose  = 5
	TStat   = 6
	TRemove = 7
)

// Response tags.
const (
	ROK    = 0x80
	RError = 0x81
)

// CreateDir is bit 0 of T_CREATE's flags word: "create a directory".
const CreateDir = 1 << 0

// MaxMessageData is the largest data payload a request or response
// frame may carry (spec.md §4.6).
const MaxMessageData = 4096

// Message is one request or response frame: tag(4 LE) | data_len(4 LE)
// | data(≤4096 bytes).
type Message struct {
	Tag  uint32
	Data []byte
}

var errDataTooLarge = errors.New("proto: message data exceeds 4096 bytes")

// WriteMessage frames and writes m to w.
func WriteMessage(w io.Writer, m Message) error {
	if len(m.Data) > MaxMessageData {
		return errDataTooLarge
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], m.Tag)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(m.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "proto: write header")
	}
	if len(m.Data) == 0 {
		return nil
	}
	_, err := w.Write(m.Data)
	return errors.Wrap(err, "proto: write data")
}

// ReadMessage reads one framed request or response from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	tag := binary.LittleEndian.Uint32(hdr[0:])
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n > MaxMessageData {
		return Message{}, errDataTooLarge
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Message{}, errors.Wrap(err, "proto: read data")
		}
	}
	return Message{Tag: tag, Data: data}, nil
}
