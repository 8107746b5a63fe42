package utils

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if !strings.Contains(cmd.Stderr.String(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Stderr.String())
	}
}

func TestLockedBufferKeepsTail(t *testing.T) {
	var b lockedBuffer
	chunk := bytes.Repeat([]byte("a"), 40*1024)
	b.Write(chunk)
	b.Write(bytes.Repeat([]byte("b"), 40*1024))

	if b.Len() > 64*1024 {
		t.Errorf("Buffer grew past its limit: %d bytes", b.Len())
	}
	if !strings.HasSuffix(b.String(), "bbbb") {
		t.Error("Expected the newest output to be kept")
	}
}

func TestLockedBufferOversizedWrite(t *testing.T) {
	var b lockedBuffer
	b.Write([]byte("old"))
	n, err := b.Write(bytes.Repeat([]byte("z"), 100*1024))
	if err != nil || n != 100*1024 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if b.Len() != 64*1024 || strings.Contains(b.String(), "old") {
		t.Errorf("Expected only the last 64KiB to be kept, got %d bytes", b.Len())
	}
}
