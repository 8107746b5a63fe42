package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"camera_index": 2,
		"detection_config": {"families": "Tag36H11"},
		"interface": {
			"nt_ip": [10, 0, 0, 2],
			"nt_port": 1883,
			"server_port": 5800,
			"serial_port": "/dev/ttyUSB0"
		},
		"transport": "nt",
		"retry": {"initial_delay": "250ms"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CameraIndex != 2 {
		t.Errorf("Expected camera index 2, got %d", cfg.CameraIndex)
	}
	if cfg.Detection.Families != Tag36H11 {
		t.Errorf("Expected Tag36H11, got %v", cfg.Detection.Families)
	}
	if cfg.Interface.NTIP != [4]uint8{10, 0, 0, 2} {
		t.Errorf("Unexpected nt_ip %v", cfg.Interface.NTIP)
	}
	if got := cfg.Interface.NTAddr(); got != "10.0.0.2:1883" {
		t.Errorf("NTAddr() = %s, want 10.0.0.2:1883", got)
	}
	if cfg.Transport != TransportNT {
		t.Errorf("Expected nt transport, got %s", cfg.Transport)
	}
	if cfg.CameraDevice() != "/dev/video2" {
		t.Errorf("CameraDevice() = %s, want /dev/video2", cfg.CameraDevice())
	}

	// Defaults
	if cfg.Retry.InitialDelay != 250*time.Millisecond || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Unexpected retry config %+v", cfg.Retry)
	}
	if *cfg.Camera.Brightness != 100 || *cfg.Camera.Exposure != 0 || *cfg.Camera.Gain != 100 {
		t.Errorf("Unexpected camera control defaults %d/%d/%d",
			*cfg.Camera.Brightness, *cfg.Camera.Exposure, *cfg.Camera.Gain)
	}
	if cfg.Camera.Format != "mjpeg" || cfg.Detector.Script != "python/detector.py" {
		t.Errorf("Unexpected defaults: format=%s script=%s", cfg.Camera.Format, cfg.Detector.Script)
	}
}

func TestLoadConfigWithoutFamily(t *testing.T) {
	path := writeTemp(t, "config.json", `{"interface": {"server_port": 5800}}`)
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for a config without detection_config, got %v", err)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
detection_config:
  families: tagStandard41h12
interface:
  client_addr: 10.0.0.2:5800
transport: tcp-client
camera:
  device: /dev/v4l/by-id/usb-cam
  width: 1280
  height: 720
  fps: 60
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Detection.Families != TagStandard41H12 {
		t.Errorf("Expected TagStandard41H12, got %v", cfg.Detection.Families)
	}
	if cfg.CameraDevice() != "/dev/v4l/by-id/usb-cam" {
		t.Errorf("Explicit device not honored: %s", cfg.CameraDevice())
	}
}

func TestValidate(t *testing.T) {
	tag36 := DetectionConfig{Families: Tag36H11}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "Default transport needs server port",
			cfg:     Config{Detection: tag36},
			wantErr: true,
		},
		{
			name: "TCP server",
			cfg:  Config{Detection: tag36, Interface: InterfaceConfig{ServerPort: 5800}},
		},
		{
			name:    "Missing family",
			cfg:     Config{Interface: InterfaceConfig{ServerPort: 5800}},
			wantErr: true,
		},
		{
			name:    "Unknown transport",
			cfg:     Config{Detection: tag36, Transport: "udp"},
			wantErr: true,
		},
		{
			name:    "Serial without port",
			cfg:     Config{Detection: tag36, Transport: TransportSerial},
			wantErr: true,
		},
		{
			name:    "TCP client with bad address",
			cfg:     Config{Detection: tag36, Transport: TransportTCPClient, Interface: InterfaceConfig{ClientAddr: "nohost"}},
			wantErr: true,
		},
		{
			name: "Width without height",
			cfg: Config{
				Detection: tag36,
				Interface: InterfaceConfig{ServerPort: 5800},
				Camera:    CameraConfig{Width: 640},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	for i, name := range familyNames {
		if Family(i) == NoFamily {
			continue
		}
		f, err := ParseFamily(name)
		if err != nil || f != Family(i) {
			t.Errorf("ParseFamily(%q) = (%v, %v)", name, f, err)
		}
	}
	if f, err := ParseFamily("TagCircle49h12"); err != nil || f != TagCircle49H12 {
		t.Errorf("Enum spelling not accepted: (%v, %v)", f, err)
	}
	for _, name := range []string{"tag99h1", ""} {
		if _, err := ParseFamily(name); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid for family %q, got %v", name, err)
		}
	}
}

func TestLoadCalibration(t *testing.T) {
	path := writeTemp(t, "calibration.json", `{
		"mtx": [[600, 0, 320], [0, 600, 240], [0, 0, 1]],
		"dist": [[0.1, -0.2, 0, 0, 0.05]],
		"rvecs": [[[0.1], [0.2], [0.3]]],
		"tvecs": [[[1], [2], [3]]],
		"fx": 600, "fy": 600, "cx": 320, "cy": 240, "tagsize": 0.1
	}`)

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration() failed: %v", err)
	}
	params, err := cal.TagParams()
	if err != nil {
		t.Fatal(err)
	}
	want := TagParams{Fx: 600, Fy: 600, Cx: 320, Cy: 240, TagSize: 0.1}
	if params != want {
		t.Errorf("TagParams() = %+v, want %+v", params, want)
	}
	if len(cal.Distortion()) != 5 {
		t.Errorf("Expected 5 distortion coefficients, got %d", len(cal.Distortion()))
	}
}

func TestLoadCalibrationMissingField(t *testing.T) {
	path := writeTemp(t, "calibration.json", `{"fx": 600, "fy": 600, "cx": 320, "tagsize": 0.1}`)
	if _, err := LoadCalibration(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for missing cy, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}
