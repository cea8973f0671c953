package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPayloadTooLarge is returned by Encode when a controller builds a
	// packet above MaxLogicalSize. It is a programming error, never a
	// protocol outcome.
	ErrPayloadTooLarge = errors.New("packet exceeds maximum logical size")

	// ErrCompression is returned by Encode when a packet above
	// MaxTransmitSize cannot be compressed under it.
	ErrCompression = errors.New("packet does not fit in a datagram after compression")

	// ErrReservedFlag is returned by Encode when the caller already set
	// FlagCompressed in byte 0.
	ErrReservedFlag = errors.New("compressed flag must not be set by the caller")
)

// Codec converts logical packets to datagrams and back. It holds only
// scratch buffers, so a single Codec must not be shared between goroutines.
type Codec struct {
	scratch bytes.Buffer
	zw      *zlib.Writer
	zr      io.ReadCloser
}

// NewCodec returns a Codec ready for use.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode returns the datagram for buf. Packets of CompressThreshold bytes or
// more are zlib-compressed (everything after byte 0) and sent compressed only
// when that is strictly smaller than buf.
func (c *Codec) Encode(buf []byte) ([]byte, error) {
	if len(buf) > MaxLogicalSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(buf))
	}
	if len(buf) == 0 {
		return []byte{}, nil
	}
	if buf[0]&FlagCompressed != 0 {
		return nil, ErrReservedFlag
	}

	if len(buf) >= CompressThreshold {
		out, err := c.compress(buf)
		if err == nil && len(out) < len(buf) && len(out) <= MaxTransmitSize {
			return out, nil
		}
		if len(buf) > MaxTransmitSize {
			if err == nil {
				err = fmt.Errorf("%d bytes after compression", len(out))
			}
			return nil, fmt.Errorf("%w: %v", ErrCompression, err)
		}
	}

	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (c *Codec) compress(buf []byte) ([]byte, error) {
	c.scratch.Reset()
	c.scratch.WriteByte(buf[0] | FlagCompressed)

	if c.zw == nil {
		zw, err := zlib.NewWriterLevel(&c.scratch, zlib.BestCompression)
		if err != nil {
			return nil, err
		}
		c.zw = zw
	} else {
		c.zw.Reset(&c.scratch)
	}

	if _, err := c.zw.Write(buf[1:]); err != nil {
		return nil, err
	}
	if err := c.zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, c.scratch.Len())
	copy(out, c.scratch.Bytes())
	return out, nil
}

// Decode returns the logical packet carried by a datagram. A compressed
// datagram that fails to inflate, or inflates past MaxLogicalSize, is an
// error and the caller should drop it.
func (c *Codec) Decode(wire []byte) ([]byte, error) {
	if len(wire) == 0 {
		return []byte{}, nil
	}
	if wire[0]&FlagCompressed == 0 {
		out := make([]byte, len(wire))
		copy(out, wire)
		return out, nil
	}

	src := bytes.NewReader(wire[1:])
	var err error
	if c.zr == nil {
		c.zr, err = zlib.NewReader(src)
	} else {
		err = c.zr.(zlib.Resetter).Reset(src, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	c.scratch.Reset()
	c.scratch.WriteByte(wire[0] &^ FlagCompressed)
	// One extra byte so an oversized stream is detected rather than truncated.
	n, err := io.Copy(&c.scratch, io.LimitReader(c.zr, MaxLogicalSize))
	if err != nil {
		c.zr = nil
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if n > MaxLogicalSize-1 {
		return nil, fmt.Errorf("decompression failed: inflated past %d bytes", MaxLogicalSize)
	}

	out := make([]byte, c.scratch.Len())
	copy(out, c.scratch.Bytes())
	return out, nil
}
