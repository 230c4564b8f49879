// Package stream decodes the line-framed chat-completion stream into typed
// domain.ChatEvent values.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatline/internal/domain"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// readSize is the buffer handed to each Read on the response body.
	readSize = 4096
)

// EmitFunc receives each decoded event. Returning an error stops decoding and
// the error is handed back to the caller unchanged.
type EmitFunc func(domain.ChatEvent) error

// Decoder reassembles frames from byte chunks whose boundaries need not line
// up with line boundaries. A partial trailing line is carried over to the
// next Feed. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a decoder with an empty carry-over buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the carry-over buffer and emits one event per
// complete data line. Each line is removed from the buffer before its event
// is emitted.
func (d *Decoder) Feed(chunk []byte, emit EmitFunc) error {
	d.buf = append(d.buf, chunk...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if err := processLine(line, emit); err != nil {
			return err
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return nil
}

// Flush processes whatever remains in the buffer as one final line. Call it
// once the transport signals end of stream.
func (d *Decoder) Flush(emit EmitFunc) error {
	tail := string(d.buf)
	d.buf = nil
	return processLine(tail, emit)
}

// Buffered reports how many bytes of a partial line are being carried over.
func (d *Decoder) Buffered() int { return len(d.buf) }

func processLine(raw string, emit EmitFunc) error {
	line := strings.TrimSpace(strings.ToValidUTF8(raw, "\uFFFD"))
	if !strings.HasPrefix(line, dataPrefix) {
		return nil
	}
	ev, ok := Classify(strings.TrimSpace(line[len(dataPrefix):]))
	if !ok {
		return nil
	}
	return emit(ev)
}

// Decode reads r until EOF, feeding every chunk through a fresh Decoder, and
// flushes the tail. It returns the first error from emit, a read error, or
// ctx.Err() if the context ends between reads. Malformed payloads never
// produce an error.
func Decode(ctx context.Context, r io.Reader, emit EmitFunc) error {
	d := NewDecoder()
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := d.Feed(buf[:n], emit); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
	return d.Flush(emit)
}
