package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrFrameTooLarge is returned if the length of a frame exceeds the maximum frame size
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrDecodeFailure is returned for truncated frames and payloads that can't be decompressed
	ErrDecodeFailure = errors.New("frame decode failure")
)

const (
	DefaultMaxFrameSize         = 1 << 20 // 1 MiB
	DefaultCompressionThreshold = 1436

	// HeaderSize is the size of the length prefix
	HeaderSize = 4

	compressedFlag = uint32(1) << 31
	lengthMask     = compressedFlag - 1
)

/*
	Frame layout:

		+---------------------------+------------------+
		| 4 byte header, big endian | payload          |
		+---------------------------+------------------+

	bit 31 of the header is set if the payload is gzip compressed,
	bits 0-30 hold the length of the payload as sent (after compression).
*/

// Codec reads and writes frames. A Codec has no per-connection state and can
// be shared by all connections.
type Codec struct {
	maxFrameSize int
	threshold    int
	level        int
	writers      sync.Pool
}

// NewCodec creates a codec. A maxFrameSize <= 0 selects DefaultMaxFrameSize,
// a negative compressionThreshold disables compression.
func NewCodec(maxFrameSize, compressionThreshold int) *Codec {
	if maxFrameSize <= 0 || maxFrameSize > int(lengthMask) {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{
		maxFrameSize: maxFrameSize,
		threshold:    compressionThreshold,
		level:        gzip.BestSpeed,
	}
}

// MaxFrameSize returns the largest payload the codec accepts
func (c *Codec) MaxFrameSize() int { return c.maxFrameSize }

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// WriteFrame writes payload as a single frame. Payloads larger than the compression
// threshold are compressed if that makes them smaller. Header and payload are
// handed to w in one (vectored) write.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	header, body, err := c.encode(payload)
	if err != nil {
		return err
	}
	b := net.Buffers{header, body}
	_, err = b.WriteTo(w)
	return err
}

// encode returns the header and the (possibly compressed) body of a frame
func (c *Codec) encode(payload []byte) ([]byte, []byte, error) {
	// the reader refuses to inflate more than the maximum
	if len(payload) > c.maxFrameSize {
		return nil, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), c.maxFrameSize)
	}

	body := payload
	var flag uint32

	if c.threshold >= 0 && len(payload) > c.threshold {
		compressed, err := c.compress(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("compress frame: %w", err)
		}
		if len(compressed) < len(payload) {
			body = compressed
			flag = compressedFlag
		}
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(body))|flag)
	return header, body, nil
}

func (c *Codec) compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(payload) / 2)

	zw, _ := c.writers.Get().(*gzip.Writer)
	if zw == nil {
		var err error
		if zw, err = gzip.NewWriterLevel(&buf, c.level); err != nil {
			return nil, err
		}
	} else {
		zw.Reset(&buf)
	}
	defer c.writers.Put(zw)

	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// ReadFrame reads the next frame from r and returns its (decompressed) payload.
// buf is used for the payload if it is large enough, so the result is only
// valid until buf is reused.
//
// A clean end of stream before the header returns io.EOF. Every other
// failure is fatal for the stream: ErrFrameTooLarge if the header announces
// more than the maximum frame size, ErrDecodeFailure for truncated frames or
// corrupt compressed payloads. I/O errors of r are returned unchanged.
func (c *Codec) ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrDecodeFailure)
		}
		return nil, err
	}

	h := binary.BigEndian.Uint32(header[:])
	length := int(h & lengthMask)
	if length > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrameSize)
	}

	if cap(buf) < length {
		buf = make([]byte, length)
	}
	payload := buf[:length]
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated payload (%d bytes expected)", ErrDecodeFailure, length)
		}
		return nil, err
	}

	if h&compressedFlag == 0 {
		return payload, nil
	}
	return c.decompress(payload)
}

// decompress inflates payload, output beyond the maximum frame size is an error
func (c *Codec) decompress(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(c.maxFrameSize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if len(out) > c.maxFrameSize {
		return nil, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrDecodeFailure, c.maxFrameSize)
	}
	return out, nil
}

// IsFatal reports whether err ends the stream it was returned for
func IsFatal(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrDecodeFailure)
}
