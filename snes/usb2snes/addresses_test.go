package usb2snes

import (
	"reflect"
	"testing"
)

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		name     string
		in       []string
		expected []string
	}{
		{"bare host", []string{"localhost"}, []string{"ws://localhost:23074", "ws://localhost:8080"}},
		{"host and port", []string{"10.0.0.2:9000"}, []string{"ws://10.0.0.2:9000"}},
		{"full url", []string{"wss://example.org/usb2snes"}, []string{"wss://example.org/usb2snes"}},
		{"ipv6", []string{"::1"}, []string{"ws://[::1]:23074", "ws://[::1]:8080"}},
		{"duplicates", []string{"localhost", "localhost:8080", " "}, []string{"ws://localhost:23074", "ws://localhost:8080"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if actual := NormalizeAddresses(tt.in); !reflect.DeepEqual(actual, tt.expected) {
				t.Errorf("actual = %q, expected = %q", actual, tt.expected)
			}
		})
	}
}

func TestTuningFor(t *testing.T) {
	if actual, expected := tuningFor("1.10.3", KnownTunings), (Tuning{Version: "1.10.3", BlockSize: 512, HoleSize: 8}); actual != expected {
		t.Errorf("actual = %+v, expected = %+v", actual, expected)
	}
	if actual := tuningFor("1.11.0", KnownTunings); actual != DefaultTuning {
		t.Errorf("actual = %+v, expected = %+v", actual, DefaultTuning)
	}
	if actual := tuningFor("", KnownTunings); actual != DefaultTuning {
		t.Errorf("actual = %+v, expected = %+v", actual, DefaultTuning)
	}
}

func TestParseInfo(t *testing.T) {
	info := parseInfo("SD2SNES COM3", []string{"1.10.3", "SD2SNES", "/sd2snes/m3nu.bin", "NO_ROM_READ", "FEAT_FOO"})
	if info.Version != "1.10.3" || info.Type != "SD2SNES" || info.ROMName != "/sd2snes/m3nu.bin" {
		t.Fatalf("actual = %+v", info)
	}
	if !info.HasFeature(featureNoROMRead) || !info.HasFeature("FEAT_FOO") || info.HasFeature("NO_CONTROL_CMD") {
		t.Fatalf("features actual = %q", info.Features)
	}
}
