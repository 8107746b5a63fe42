package transport

import (
	"bufio"
	"io"

	"github.com/andresmejia3/tagvision/internal/framing"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/wire"
)

// Reader decodes framed pose records from a byte stream, the controller's
// side of a Stream publisher. A record is returned once the marker of the
// following record has arrived.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Split(framing.SplitFrames)
	return &Reader{scanner: s}
}

// Next returns the next record. A payload of the wrong size yields an error
// wrapping wire.ErrLength; the payload is discarded and the reader stays
// usable. io.EOF marks the end of the stream.
func (r *Reader) Next() (types.PoseRecord, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return types.PoseRecord{}, err
		}
		return types.PoseRecord{}, io.EOF
	}
	return wire.Decode(r.scanner.Bytes())
}
