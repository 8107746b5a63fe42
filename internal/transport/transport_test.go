package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/framing"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/wire"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error { b.closed = true; return nil }

var sample = types.PoseRecord{
	Detected:    true,
	TagID:       7,
	Timestamp:   1700000000.25,
	Translation: [3]float64{0.1, -0.2, 1.0},
	Rotation:    [3]float64{0.01, 0.02, -0.03},
}

func TestStreamPublish(t *testing.T) {
	var out bufCloser
	s := NewStream("test", &out)

	if err := s.Publish(context.Background(), sample); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := s.Publish(context.Background(), types.NotDetected(2)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := out.Bytes()
	if len(got) != 2*(4+wire.PacketSize) {
		t.Fatalf("Expected %d bytes, got %d", 2*(4+wire.PacketSize), len(got))
	}
	if !bytes.Equal(got[:4], framing.SyncMarker) {
		t.Errorf("Packet does not start with the sync marker: %X", got[:4])
	}
	if !bytes.Equal(got[4:4+wire.PacketSize], wire.Encode(sample)) {
		t.Error("Packet body does not match the wire encoding")
	}

	s.Close()
	if !out.closed {
		t.Error("Close did not reach the underlying stream")
	}
}

func TestStreamPublishCancelled(t *testing.T) {
	var out bufCloser
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewStream("test", &out).Publish(ctx, sample); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() = %v, want context.Canceled", err)
	}
	if out.Len() != 0 {
		t.Error("Cancelled publish wrote bytes")
	}
}

func TestStreamPublishStalledWrite(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	s := NewStream("pipe", client)

	// Nobody reads from server, so the write blocks until the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Publish(ctx, sample) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected stalled write to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not honor the context deadline")
	}
}

// TestRoundTripOverPipe checks the controller-side reader against the
// publisher, including the one-record latency of the framing.
func TestRoundTripOverPipe(t *testing.T) {
	client, server := net.Pipe()
	pub := NewStream("pipe", client)
	reader := NewReader(server)

	recs := []types.PoseRecord{sample, types.NotDetected(3), sample}
	go func() {
		for _, r := range recs {
			pub.Publish(context.Background(), r)
		}
		pub.Close()
	}()

	// The last record has no trailing marker and is never delivered.
	for i := 0; i < len(recs)-1; i++ {
		got, err := reader.Next()
		if err != nil {
			t.Fatalf("Next() %d failed: %v", i, err)
		}
		if got != recs[i] {
			t.Errorf("Record %d = %+v, want %+v", i, got, recs[i])
		}
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestReaderSkipsLongNoise(t *testing.T) {
	// More noise than the scanner's default 64 KiB token limit.
	stream := bytes.Repeat([]byte{0x55}, 70*1024)
	for _, rec := range []types.PoseRecord{sample, types.NotDetected(3), sample} {
		stream = framing.Encode(stream, wire.Encode(rec))
	}

	r := NewReader(bytes.NewReader(stream))
	for i, want := range []types.PoseRecord{sample, types.NotDetected(3)} {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("Record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestReaderLengthMismatch(t *testing.T) {
	var stream []byte
	stream = framing.Encode(stream, []byte{1, 2, 3})
	stream = framing.Encode(stream, wire.Encode(sample))
	stream = append(stream, framing.SyncMarker...)

	r := NewReader(bytes.NewReader(stream))
	if _, err := r.Next(); !errors.Is(err, wire.ErrLength) {
		t.Fatalf("Expected wire.ErrLength, got %v", err)
	}
	got, err := r.Next()
	if err != nil {
		t.Fatalf("Reader did not recover after a bad payload: %v", err)
	}
	if got != sample {
		t.Errorf("Got %+v, want %+v", got, sample)
	}
}

func TestListenTCPSingleClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		s   *Stream
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		s, err := AcceptOne(ctx, ln)
		accepted <- result{s, err}
	}()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("AcceptOne failed: %v", res.err)
	}
	defer res.s.Close()

	if err := res.s.Publish(ctx, sample); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	buf := make([]byte, 4+wire.PacketSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(buf[:4], framing.SyncMarker) {
		t.Errorf("Unexpected packet header %X", buf[:4])
	}

	// The listener is gone: a second client cannot connect.
	if c2, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		c2.Close()
		t.Error("Expected second connection to be refused")
	}
}

func TestListenTCPCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ListenTCP(ctx, "127.0.0.1:0")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ListenTCP() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenTCP did not return after cancellation")
	}
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4+wire.PacketSize)
		io.ReadFull(conn, buf)
		received <- buf
	}()

	s, err := DialTCP(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer s.Close()
	if err := s.Publish(context.Background(), sample); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case buf := <-received:
		rec, err := wire.Decode(buf[4:])
		if err != nil || rec != sample {
			t.Errorf("Server decoded %+v (%v), want %+v", rec, err, sample)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received the packet")
	}
}

func TestEntries(t *testing.T) {
	got := Entries(sample)
	want := map[string]string{
		TopicDetected:    "true",
		TopicTagID:       "7",
		TopicTimestamp:   "1.70000000025e+09",
		TopicRotation:    "[0.01,0.02,-0.03]",
		TopicTranslation: "[0.1,-0.2,1]",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(got))
	}
	for _, e := range got {
		if string(e.Payload) != want[e.Topic] {
			t.Errorf("%s = %q, want %q", e.Topic, e.Payload, want[e.Topic])
		}
	}
}

func TestNTPublishNotConnected(t *testing.T) {
	n := &NT{}
	if err := n.Publish(context.Background(), sample); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
}

// pendingToken never completes unless err is set.
type pendingToken struct {
	done chan struct{}
	err  error
}

func (p *pendingToken) Wait() bool                     { <-p.done; return true }
func (p *pendingToken) WaitTimeout(time.Duration) bool { return false }
func (p *pendingToken) Done() <-chan struct{}          { return p.done }
func (p *pendingToken) Error() error                   { return p.err }

// stubClient answers Connect with a fixed token and counts disconnects.
type stubClient struct {
	mqtt.Client
	token       *pendingToken
	disconnects atomic.Int32
}

func (c *stubClient) Connect() mqtt.Token { return c.token }
func (c *stubClient) Disconnect(uint)     { c.disconnects.Add(1) }

func stubMQTT(t *testing.T, token *pendingToken) *stubClient {
	t.Helper()
	client := &stubClient{token: token}
	orig, origTimeout := newMQTTClient, ntConnectTimeout
	newMQTTClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	ntConnectTimeout = 50 * time.Millisecond
	t.Cleanup(func() { newMQTTClient, ntConnectTimeout = orig, origTimeout })
	return client
}

func TestDialNTAbandonsPendingConnect(t *testing.T) {
	t.Run("Cancelled", func(t *testing.T) {
		client := stubMQTT(t, &pendingToken{done: make(chan struct{})})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := DialNT(ctx, "127.0.0.1:1883", ""); !errors.Is(err, context.Canceled) {
			t.Fatalf("DialNT() = %v, want context.Canceled", err)
		}
		if client.disconnects.Load() != 1 {
			t.Errorf("Expected the pending client to be disconnected, got %d calls", client.disconnects.Load())
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		client := stubMQTT(t, &pendingToken{done: make(chan struct{})})
		if _, err := DialNT(context.Background(), "127.0.0.1:1883", ""); err == nil {
			t.Fatal("Expected a timeout error")
		}
		if client.disconnects.Load() != 1 {
			t.Errorf("Expected the pending client to be disconnected, got %d calls", client.disconnects.Load())
		}
	})

	t.Run("Refused", func(t *testing.T) {
		done := make(chan struct{})
		close(done)
		client := stubMQTT(t, &pendingToken{done: done, err: errors.New("connection refused")})
		if _, err := DialNT(context.Background(), "127.0.0.1:1883", "robot"); err == nil {
			t.Fatal("Expected a connection error")
		}
		if client.disconnects.Load() != 1 {
			t.Errorf("Expected the failed client to be disconnected, got %d calls", client.disconnects.Load())
		}
	})
}

func TestOpenUnknownTransport(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Transport: "carrier-pigeon"})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Open() = %v, want config.ErrInvalid", err)
	}
}
