// Package frame implements the wire framing of sKV: every message is a 4 byte
// big endian header followed by the payload. Bit 31 of the header flags a
// gzip compressed payload, the remaining 31 bits hold the payload length.
//
// Payloads above a threshold (DefaultCompressionThreshold) are compressed
// when that makes them smaller. Frames announcing more than the maximum frame
// size fail with ErrFrameTooLarge, truncated or corrupt frames with
// ErrDecodeFailure. Both leave the stream in an unknown position, so the
// connection has to be closed.
package frame
