// Package framing delimits payloads inside an unstructured byte stream
// (serial line or TCP) using a 4-byte sync marker and no length field.
//
// Each encoded frame is SYNC‖payload. A payload is only complete once the
// next SYNC has arrived, so the decoder always needs two markers.
package framing

import (
	"bytes"
)

// SyncMarker precedes every payload on the stream.
var SyncMarker = []byte{0x1A, 0xCF, 0xFC, 0x1D}

// Encode appends SYNC‖payload to dst and returns the extended slice.
func Encode(dst, payload []byte) []byte {
	dst = append(dst, SyncMarker...)
	return append(dst, payload...)
}

// Decode looks for a complete payload at the head of buf.
//
// It returns the bytes strictly between the first marker and the next one,
// and advance, the number of leading bytes the caller must drop. After
// dropping, the second marker sits at the head of the buffer. Bytes before
// the first marker are junk and are dropped along with the payload.
//
// ok is false when no complete payload is buffered yet; advance is then 0
// and the buffer must be kept as is.
func Decode(buf []byte) (payload []byte, advance int, ok bool) {
	start := bytes.Index(buf, SyncMarker)
	if start == -1 {
		return nil, 0, false
	}
	body := buf[start+len(SyncMarker):]
	end := bytes.Index(body, SyncMarker)
	if end == -1 {
		return nil, 0, false
	}
	return body[:end], start + len(SyncMarker) + end, true
}

// Junk returns how many leading bytes of buf can never be part of a frame:
// everything before the first marker, or, without a marker, everything but
// a tail that could still be the start of one.
func Junk(buf []byte) int {
	if start := bytes.Index(buf, SyncMarker); start != -1 {
		return start
	}
	if n := len(buf) - (len(SyncMarker) - 1); n > 0 {
		return n
	}
	return 0
}

// SplitFrames is a bufio.SplitFunc yielding framed payloads.
// A trailing payload without a closing marker is never emitted. Junk is
// dropped as it arrives, so a long run of noise never fills the scanner.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	payload, n, ok := Decode(data)
	if !ok {
		if atEOF {
			return 0, nil, nil
		}
		return Junk(data), nil, nil
	}
	// A zero-length payload is still a frame; bufio needs a non-nil token for it.
	if payload == nil {
		payload = []byte{}
	}
	return n, payload, nil
}

// Decoder accumulates partial reads and hands out complete payloads.
// It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Write appends received bytes to the internal buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload, or false if more bytes are needed.
// The returned slice is a copy and stays valid after further writes.
func (d *Decoder) Next() ([]byte, bool) {
	payload, n, ok := Decode(d.buf)
	if !ok {
		d.drop(Junk(d.buf))
		return nil, false
	}
	out := make([]byte, len(payload))
	copy(out, payload)

	d.drop(n)
	return out, true
}

func (d *Decoder) drop(n int) {
	if n == 0 {
		return
	}
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
