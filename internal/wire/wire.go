// Package wire implements the fixed-size binary encoding of a PoseRecord.
//
// Layout (little-endian, no gaps):
//
//	[0]      detected (1 or 0)
//	[1:9]    tag id (uint64)
//	[9:17]   timestamp (float64 seconds)
//	[17:41]  translation x, y, z (float64 meters)
//	[41:65]  rotation roll, pitch, yaw (float64 radians)
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/tagvision/internal/types"
)

// PacketSize is the exact length of an encoded PoseRecord.
const PacketSize = 65

const (
	offTagID       = 1
	offTimestamp   = 9
	offTranslation = 17
	offRotation    = 41
)

// ErrLength is returned by Decode when the input is not exactly PacketSize bytes.
var ErrLength = errors.New("wire: packet length mismatch")

// Encode returns the 65-byte encoding of r.
func Encode(r types.PoseRecord) []byte {
	return AppendEncode(make([]byte, 0, PacketSize), r)
}

// AppendEncode appends the encoding of r to dst and returns the extended slice.
func AppendEncode(dst []byte, r types.PoseRecord) []byte {
	var buf [PacketSize]byte
	if r.Detected {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[offTagID:], r.TagID)
	binary.LittleEndian.PutUint64(buf[offTimestamp:], math.Float64bits(r.Timestamp))
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(buf[offTranslation+8*i:], math.Float64bits(r.Translation[i]))
		binary.LittleEndian.PutUint64(buf[offRotation+8*i:], math.Float64bits(r.Rotation[i]))
	}
	return append(dst, buf[:]...)
}

// Decode parses a 65-byte packet. Any other length fails with ErrLength and
// the caller should discard the buffer that produced it.
func Decode(b []byte) (types.PoseRecord, error) {
	if len(b) != PacketSize {
		return types.PoseRecord{}, fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(b), PacketSize)
	}

	var r types.PoseRecord
	r.Detected = b[0] != 0
	r.TagID = binary.LittleEndian.Uint64(b[offTagID:])
	r.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(b[offTimestamp:]))
	for i := 0; i < 3; i++ {
		r.Translation[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[offTranslation+8*i:]))
		r.Rotation[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[offRotation+8*i:]))
	}
	return r, nil
}
