package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/andresmejia3/tagvision/internal/types"
)

// NT topic names.
const (
	TopicDetected    = "Vision/Detected"
	TopicTagID       = "Vision/TagID"
	TopicTimestamp   = "Vision/Timestamp"
	TopicRotation    = "Vision/Rotation"
	TopicTranslation = "Vision/Translation"
)

// Entry is one key/value write.
type Entry struct {
	Topic   string
	Payload []byte
}

// Entries formats rec as the five NT values: bool, int, float, double[3], double[3].
func Entries(rec types.PoseRecord) []Entry {
	return []Entry{
		{TopicDetected, []byte(strconv.FormatBool(rec.Detected))},
		{TopicTagID, []byte(strconv.FormatUint(rec.TagID, 10))},
		{TopicTimestamp, []byte(formatFloat(rec.Timestamp))},
		{TopicRotation, []byte(formatVec(rec.Rotation))},
		{TopicTranslation, []byte(formatVec(rec.Translation))},
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func formatVec(v [3]float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// NT publishes records as individual retained MQTT messages. Publishing is
// fire-and-forget: QoS 0 and no wait on the token.
type NT struct {
	Client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

var (
	newMQTTClient    = mqtt.NewClient
	ntConnectTimeout = 5 * time.Second
)

// DialNT connects to the broker at addr (host:port). An empty clientID gets a
// random one. A client that fails to connect is disconnected before returning.
func DialNT(ctx context.Context, addr, clientID string) (*NT, error) {
	if clientID == "" {
		clientID = "tagvision-" + uuid.NewString()
	}

	n := &NT{}
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + addr)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		n.setConnected(true)
		slog.Info("nt connection established", "broker", addr, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		n.setConnected(false)
		slog.Warn("nt connection lost, will auto-reconnect", "error", err, "broker", addr)
	}

	n.Client = newMQTTClient(opts)
	slog.Info("connecting to nt broker", "broker", addr)

	token := n.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		n.Client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(ntConnectTimeout):
		n.Client.Disconnect(0)
		return nil, fmt.Errorf("nt connection timeout: %s", addr)
	}
	if err := token.Error(); err != nil {
		n.Client.Disconnect(0)
		return nil, fmt.Errorf("nt connection failed: %w", err)
	}
	n.setConnected(true)
	return n, nil
}

// Publish writes each field of rec to its topic.
func (n *NT) Publish(ctx context.Context, rec types.PoseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.isConnected() {
		return ErrNotConnected
	}
	for _, e := range Entries(rec) {
		n.Client.Publish(e.Topic, 0, true, e.Payload)
	}
	return nil
}

// Close disconnects from the broker.
func (n *NT) Close() error {
	if n.Client != nil && n.Client.IsConnected() {
		n.Client.Disconnect(250)
		slog.Info("nt disconnected")
	}
	n.setConnected(false)
	return nil
}

func (n *NT) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *NT) isConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}
