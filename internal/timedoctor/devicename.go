package timedoctor

import (
	"regexp"
	"strings"
)

// DeviceNameClass is the verdict on whether a computer name was typed by a
// human or generated by the tracking agent.
type DeviceNameClass int

const (
	DeviceNameUnknown DeviceNameClass = iota
	DeviceNameReal
	DeviceNameSynthetic
)

var (
	syntheticDevicePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Computer-[A-Za-z0-9]{8}$`),
		regexp.MustCompile(`^User\d+$`),
	}

	hostLocalPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*\.local$`)
	desktopPattern       = regexp.MustCompile(`^DESKTOP-[A-Z0-9]{6,7}$`)
	firstLastPattern     = regexp.MustCompile(`^[A-Z][a-z]+-[A-Z][a-z]+$`)
	vendorDevicePattern  = regexp.MustCompile(`(?i)^(MacBook|iMac|Mac mini|ThinkPad|Latitude|XPS|Pavilion|IdeaPad|Inspiron|EliteBook|ProBook|Surface|ZenBook|VivoBook)[A-Za-z0-9 ._-]*$`)
	realDevicePatterns   = []*regexp.Regexp{hostLocalPattern, desktopPattern, firstLastPattern, vendorDevicePattern}
)

// ClassifyDeviceName decides whether a computer name looks like a real
// machine name, an agent-generated placeholder, or neither. Synthetic
// patterns win over real ones: "Computer-a1b2c3d4" must never be mistaken
// for a hostname.
func ClassifyDeviceName(name string) DeviceNameClass {
	name = strings.TrimSpace(name)
	if name == "" {
		return DeviceNameUnknown
	}

	for _, p := range syntheticDevicePatterns {
		if p.MatchString(name) {
			return DeviceNameSynthetic
		}
	}
	for _, p := range realDevicePatterns {
		if p.MatchString(name) {
			return DeviceNameReal
		}
	}
	return DeviceNameUnknown
}

// DeviceNameLabel derives an identity-adjacent label from a real device
// name: "levi.local" becomes "levi", "John-Smith" becomes "John Smith",
// everything else is kept as typed.
func DeviceNameLabel(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToLower(name), ".local") {
		return name[:len(name)-len(".local")]
	}
	if firstLastPattern.MatchString(name) {
		return strings.ReplaceAll(name, "-", " ")
	}
	return name
}
