package evdev

import (
	"errors"
	"io"
)

// StreamDecoder reads whole records from an unframed byte stream. It holds a
// single record buffer and never carries a partial record past an error.
type StreamDecoder struct {
	r      io.Reader
	layout Layout
	src    Source
	buf    []byte
}

func NewStreamDecoder(r io.Reader, layout Layout, src Source) *StreamDecoder {
	return &StreamDecoder{r: r, layout: layout, src: src, buf: make([]byte, layout.Size)}
}

// Next returns the next event. It returns io.EOF when the stream ends on a
// record boundary and a *ProtocolError when it ends mid-record.
func (d *StreamDecoder) Next() (Event, error) {
	n, err := io.ReadFull(d.r, d.buf)
	switch {
	case err == nil:
		return d.layout.Decode(d.buf, d.src)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Event{}, &ProtocolError{Want: d.layout.Size, Got: n}
	default:
		return Event{}, err
	}
}
