package voice

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	oggPageHeaderSize = 27
	maxOggSegments    = 255
)

var errNotOpus = errors.New("ogg stream is not opus")

// oggReader splits an Ogg/Opus stream into raw Opus packets, dropping the
// OpusHead and OpusTags header packets.
type oggReader struct {
	reader  *bufio.Reader
	header  []byte
	segs    []byte
	packet  bytes.Buffer
	pending [][]byte
	sawHead bool
}

func newOggReader(r io.Reader) *oggReader {
	return &oggReader{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, oggPageHeaderSize),
		segs:   make([]byte, maxOggSegments),
	}
}

// Next returns the next Opus packet, or io.EOF once the stream ends cleanly.
func (o *oggReader) Next() ([]byte, error) {
	for len(o.pending) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	packet := o.pending[0]
	o.pending = o.pending[1:]
	return packet, nil
}

func (o *oggReader) readPage() error {
	for {
		sig, err := o.reader.Peek(4)
		if err != nil {
			return eofOr(err)
		}
		if string(sig) == "OggS" {
			break
		}
		// resync after garbage
		if _, err := o.reader.Discard(1); err != nil {
			return eofOr(err)
		}
	}

	if _, err := io.ReadFull(o.reader, o.header); err != nil {
		return eofOr(err)
	}
	count := int(o.header[26])
	table := o.segs[:count]
	if _, err := io.ReadFull(o.reader, table); err != nil {
		return eofOr(err)
	}

	for _, size := range table {
		if _, err := io.CopyN(&o.packet, o.reader, int64(size)); err != nil {
			return eofOr(err)
		}
		if size == 255 {
			// packet continues in the next segment, possibly on the next page
			continue
		}
		payload := bytes.Clone(o.packet.Bytes())
		o.packet.Reset()

		switch {
		case bytes.HasPrefix(payload, []byte("OpusHead")):
			o.sawHead = true
			continue
		case bytes.HasPrefix(payload, []byte("OpusTags")):
			continue
		case !o.sawHead:
			return errNotOpus
		case len(payload) == 0:
			continue
		}
		o.pending = append(o.pending, payload)
	}
	return nil
}

func eofOr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
