package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration or calibration content that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Transport selects the publisher variant at runtime.
type Transport string

const (
	TransportSerial    Transport = "serial"
	TransportTCPClient Transport = "tcp-client"
	TransportTCPServer Transport = "tcp-server"
	TransportNT        Transport = "nt"
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(s); t {
	case TransportSerial, TransportTCPClient, TransportTCPServer, TransportNT:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown transport %q (must be serial, tcp-client, tcp-server or nt)", ErrInvalid, s)
}

// Config is the process configuration file. JSON files load unchanged.
type Config struct {
	CameraIndex uint            `yaml:"camera_index"`
	Detection   DetectionConfig `yaml:"detection_config"`
	Interface   InterfaceConfig `yaml:"interface"`
	Transport   Transport       `yaml:"transport"`
	Camera      CameraConfig    `yaml:"camera"`
	Retry       RetryConfig     `yaml:"retry"`
	Detector    DetectorConfig  `yaml:"detector"`
}

// DetectionConfig selects the single tag family the detector looks for.
type DetectionConfig struct {
	Families Family `yaml:"families"`
}

// InterfaceConfig holds the addresses used by the transport variants.
type InterfaceConfig struct {
	NTIP       [4]uint8 `yaml:"nt_ip"`
	NTPort     uint16   `yaml:"nt_port"`
	ServerPort uint16   `yaml:"server_port"`
	SerialPort string   `yaml:"serial_port"`
	ClientAddr string   `yaml:"client_addr"` // host:port for tcp-client
	ClientID   string   `yaml:"client_id"`   // MQTT client id for nt
}

// NTAddr returns the key/value service address as host:port.
func (i InterfaceConfig) NTAddr() string {
	ip := net.IPv4(i.NTIP[0], i.NTIP[1], i.NTIP[2], i.NTIP[3])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(i.NTPort)))
}

// CameraConfig is the requested capture mode. Zero Width/Height/FPS means
// "best available" and leaves the choice to the device.
type CameraConfig struct {
	Device     string `yaml:"device"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	Format     string `yaml:"format"`
	Brightness *int   `yaml:"brightness"`
	Exposure   *int   `yaml:"exposure"`
	Gain       *int   `yaml:"gain"`
}

// RetryConfig controls camera open retries.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"` // 0 retries forever
}

// DetectorConfig locates the detector process.
type DetectorConfig struct {
	Python  string `yaml:"python"`
	Script  string `yaml:"script"`
	Threads int    `yaml:"threads"`
}

func intPtr(v int) *int { return &v }

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.Detection.Families == NoFamily {
		return fmt.Errorf("%w: detection_config.families is required", ErrInvalid)
	}

	if cfg.Transport == "" {
		cfg.Transport = TransportTCPServer
	}
	if _, err := ParseTransport(string(cfg.Transport)); err != nil {
		return err
	}

	switch cfg.Transport {
	case TransportSerial:
		if cfg.Interface.SerialPort == "" {
			return fmt.Errorf("%w: interface.serial_port is required for the serial transport", ErrInvalid)
		}
	case TransportTCPClient:
		if _, _, err := net.SplitHostPort(cfg.Interface.ClientAddr); err != nil {
			return fmt.Errorf("%w: interface.client_addr must be host:port: %v", ErrInvalid, err)
		}
	case TransportTCPServer:
		if cfg.Interface.ServerPort == 0 {
			return fmt.Errorf("%w: interface.server_port is required for the tcp-server transport", ErrInvalid)
		}
	case TransportNT:
		if cfg.Interface.NTPort == 0 {
			return fmt.Errorf("%w: interface.nt_port is required for the nt transport", ErrInvalid)
		}
	}

	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 || cfg.Camera.FPS < 0 {
		return fmt.Errorf("%w: camera width, height and fps must be >= 0", ErrInvalid)
	}
	if (cfg.Camera.Width == 0) != (cfg.Camera.Height == 0) {
		return fmt.Errorf("%w: camera width and height must be set together", ErrInvalid)
	}
	if cfg.Camera.Format == "" {
		cfg.Camera.Format = "mjpeg"
	}
	if cfg.Camera.Brightness == nil {
		cfg.Camera.Brightness = intPtr(100)
	}
	if cfg.Camera.Exposure == nil {
		cfg.Camera.Exposure = intPtr(0)
	}
	if cfg.Camera.Gain == nil {
		cfg.Camera.Gain = intPtr(100)
	}

	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must be >= 0", ErrInvalid)
	}

	if cfg.Detector.Python == "" {
		cfg.Detector.Python = "python3"
	}
	if cfg.Detector.Script == "" {
		cfg.Detector.Script = "python/detector.py"
	}
	if cfg.Detector.Threads <= 0 {
		cfg.Detector.Threads = 4
	}
	return nil
}

// CameraDevice returns the device path to open.
func (c *Config) CameraDevice() string {
	if c.Camera.Device != "" {
		return c.Camera.Device
	}
	return fmt.Sprintf("/dev/video%d", c.CameraIndex)
}
