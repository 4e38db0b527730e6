package timedoctor

import "testing"

func TestClassifyDeviceName(t *testing.T) {
	cases := []struct {
		name string
		want DeviceNameClass
	}{
		{"levi.local", DeviceNameReal},
		{"build-agent-03.local", DeviceNameReal},
		{"DESKTOP-A1B2C3", DeviceNameReal},
		{"DESKTOP-A1B2C3D", DeviceNameReal},
		{"John-Smith", DeviceNameReal},
		{"MacBook Pro", DeviceNameReal},
		{"ThinkPad-X1", DeviceNameReal},

		{"Computer-a1b2c3d4", DeviceNameSynthetic},
		{"Computer-AAAABBBB", DeviceNameSynthetic},
		{"User12345", DeviceNameSynthetic},
		{"User1", DeviceNameSynthetic},

		{"", DeviceNameUnknown},
		{"   ", DeviceNameUnknown},
		{"x", DeviceNameUnknown},
		{"DESKTOP-toolong123", DeviceNameUnknown},
		{"Computer-short", DeviceNameUnknown},
		{"john-smith", DeviceNameUnknown},
	}

	for _, tc := range cases {
		if got := ClassifyDeviceName(tc.name); got != tc.want {
			t.Errorf("ClassifyDeviceName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDeviceNameLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"levi.local", "levi"},
		{"John-Smith", "John Smith"},
		{"DESKTOP-A1B2C3", "DESKTOP-A1B2C3"},
		{"MacBook Pro", "MacBook Pro"},
		{"  levi.local  ", "levi"},
	}

	for _, tc := range cases {
		if got := DeviceNameLabel(tc.in); got != tc.want {
			t.Errorf("DeviceNameLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
