package trickle

import (
	"bytes"
	"encoding/json"
)

// dataPrefix marks a candidate frame line.
const dataPrefix = "data: "

// Decoder turns an ordered sequence of raw chunks into Frames. A chunk may
// end anywhere, including inside a line or a multi-byte character; the
// unterminated tail is held until the next Feed or Flush.
//
// A Decoder is not safe for concurrent use. Each Session owns one.
type Decoder struct {
	buf         []byte
	malformed   int
	onMalformed func(*MalformedFrameError)
}

// DecoderOption configures a [Decoder].
type DecoderOption func(*Decoder)

// WithMalformedHandler sets a callback invoked for every data line that
// fails to decode. The line is skipped either way.
func WithMalformedHandler(h func(*MalformedFrameError)) DecoderOption {
	return func(d *Decoder) { d.onMalformed = h }
}

// NewDecoder creates a Decoder with an empty buffer.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed appends chunk to the buffer and decodes every complete line.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)
	var frames []Frame
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx == -1 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if f, ok := d.decodeLine(line); ok {
			frames = append(frames, f)
		}
	}
	// Compact so a long stream does not pin every consumed chunk.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Flush decodes whatever remains in the buffer as a final line. It is called
// once the transport reports end of stream.
func (d *Decoder) Flush() []Frame {
	line := d.buf
	d.buf = nil
	if len(line) == 0 {
		return nil
	}
	if f, ok := d.decodeLine(line); ok {
		return []Frame{f}
	}
	return nil
}

// Buffered returns the number of bytes held for an unterminated line.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Malformed returns the number of data lines skipped since the last Reset.
func (d *Decoder) Malformed() int { return d.malformed }

// Reset discards buffered input and counters.
func (d *Decoder) Reset() {
	d.buf = nil
	d.malformed = 0
}

func (d *Decoder) decodeLine(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Frame{}, false
	}
	payload := line[len(dataPrefix):]
	var dto frameDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		d.malformed++
		if d.onMalformed != nil {
			d.onMalformed(&MalformedFrameError{Line: string(line), Err: err})
		}
		return Frame{}, false
	}
	return dto.frame(), true
}
