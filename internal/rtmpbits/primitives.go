// Package rtmpbits implements the fixed-width binary field encodings used
// throughout the RTMP wire format: big/little-endian integers, the 3-byte
// packed timestamp, and the compact chunk basic-header encoding.
package rtmpbits

import "encoding/binary"

// PutUint24BE writes the low 24 bits of v into b (big-endian), as used for
// chunk timestamps and message lengths.
func PutUint24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Uint24BE reads a 24-bit big-endian unsigned integer.
func Uint24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutUint32BE writes v as 4 big-endian bytes.
func PutUint32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32BE reads 4 big-endian bytes.
func Uint32BE(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// PutUint32LE writes v as 4 little-endian bytes.
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// Uint32LE reads 4 little-endian bytes.
func Uint32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// ExtendedTimestampSentinel is the 24-bit value that signals the real
// timestamp/delta follows as a 4-byte extended field.
const ExtendedTimestampSentinel = 0xFFFFFF

// EncodeBasicHeader serializes the basic header (fmt + chunk stream id) of
// a chunk, choosing the 1/2/3-byte form based on the magnitude of csid.
func EncodeBasicHeader(fmtType byte, csid uint32) []byte {
	switch {
	case csid >= 64+256:
		return []byte{
			fmtType<<6 | 1,
			byte((csid - 64) & 0xff),
			byte((csid - 64) >> 8 & 0xff),
		}
	case csid >= 64:
		return []byte{fmtType << 6, byte((csid - 64) & 0xff)}
	default:
		return []byte{fmtType<<6 | byte(csid)}
	}
}
