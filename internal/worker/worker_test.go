package worker

import (
	"bytes"
	"encoding/binary"
	"image"
	"strings"
	"testing"

	"github.com/andresmejia3/tagvision/internal/config"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func writeResponse(t *testing.T, pipe *MockCloser, payload []byte) {
	t.Helper()
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	pipe.Write(payload)
}

func TestDetect(t *testing.T) {
	// 1. Setup Mocks
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with a fake response from "Python"
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                               // Status OK
	binary.Write(payload, binary.BigEndian, uint32(2)) // 2 Candidates

	binary.Write(payload, binary.BigEndian, uint64(7))
	binary.Write(payload, binary.BigEndian, float64(80.5))
	payload.WriteByte(1)
	binary.Write(payload, binary.BigEndian, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	binary.Write(payload, binary.BigEndian, [3]float64{0.1, -0.2, 1.5})

	binary.Write(payload, binary.BigEndian, uint64(3))
	binary.Write(payload, binary.BigEndian, float64(12))
	payload.WriteByte(0) // No pose
	binary.Write(payload, binary.BigEndian, [9]float64{})
	binary.Write(payload, binary.BigEndian, [3]float64{})

	writeResponse(t, dataPipeMock, payload.Bytes())

	// 3. Create Worker with mocks injected
	w := &PythonDetector{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	// 4. Execute with a sub-image to make sure stride is honored
	full := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range full.Pix {
		full.Pix[i] = uint8(i)
	}
	img := full.SubImage(image.Rect(2, 2, 5, 4)).(*image.Gray)

	got, err := w.Detect(img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// 5. Verify the request
	sent := stdinMock.Bytes()
	if len(sent) != 4+8+3*2 {
		t.Fatalf("Expected %d bytes sent, got %d", 4+8+3*2, len(sent))
	}
	if binary.BigEndian.Uint32(sent[0:4]) != 8+6 {
		t.Errorf("Bad length prefix %d", binary.BigEndian.Uint32(sent[0:4]))
	}
	if binary.BigEndian.Uint32(sent[4:8]) != 3 || binary.BigEndian.Uint32(sent[8:12]) != 2 {
		t.Errorf("Bad dimensions in request: %X", sent[4:12])
	}
	wantPix := []byte{18, 19, 20, 26, 27, 28}
	if !bytes.Equal(sent[12:], wantPix) {
		t.Errorf("Expected pixels %v, got %v", wantPix, sent[12:])
	}

	// 6. Verify the parsed candidates
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != 7 || got[0].DecisionMargin != 80.5 || got[0].Pose == nil {
		t.Fatalf("Unexpected first candidate %+v", got[0])
	}
	if got[0].Pose.Rotation[1][1] != 1 || got[0].Pose.Translation[2] != 1.5 {
		t.Errorf("Unexpected pose %+v", got[0].Pose)
	}
	if got[1].ID != 3 || got[1].Pose != nil {
		t.Errorf("Expected second candidate without pose, got %+v", got[1])
	}
}

func TestDetect_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeResponse(t, dataPipeMock, payload.Bytes())

	w := &PythonDetector{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Detect(image.NewGray(image.Rect(0, 0, 2, 2)))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "detector worker error: "+errMsg) {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestDetect_ProcessGone(t *testing.T) {
	// Empty pipe behaves like a crashed child: EOF on the header read.
	w := &PythonDetector{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.Detect(image.NewGray(image.Rect(0, 0, 1, 1))); err == nil {
		t.Fatal("Expected error when detector produced no output")
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"Empty", nil},
		{"Unknown status", []byte{9}},
		{"Missing count", []byte{0, 0}},
		{"Count larger than body", []byte{0, 0, 0, 0, 5}},
		{"Truncated error", []byte{1, 0, 0, 0, 10, 'x'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse(tt.body); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseResponse_NoCandidates(t *testing.T) {
	got, err := ParseResponse([]byte{0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no candidates, got %d", len(got))
	}
}

func TestOptionsArgs(t *testing.T) {
	opts := Options{
		Script:  "python/detector.py",
		Family:  config.Tag36H11,
		Params:  config.TagParams{Fx: 600, Fy: 601.5, Cx: 320, Cy: 240, TagSize: 0.1651},
		Threads: 4,
	}
	got := strings.Join(opts.Args(), " ")
	want := "-u python/detector.py --family tag36h11 --fx 600 --fy 601.5 --cx 320 --cy 240 --tagsize 0.1651 --threads 4"
	if got != want {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}
