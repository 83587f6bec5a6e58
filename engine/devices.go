package engine

import (
	"strings"

	"github.com/go-rod/rod/lib/devices"

	"github.com/use-agent/sitegrab/models"
)

// knownDevices are the emulation presets accepted by Options.Mobile,
// matched against their titles.
var knownDevices = []devices.Device{
	devices.IPhone4,
	devices.IPhone5orSE,
	devices.IPhone6or7or8,
	devices.IPhone6or7or8Plus,
	devices.IPhoneX,
	devices.BlackBerryZ30,
	devices.Nexus4,
	devices.Nexus5,
	devices.Nexus5X,
	devices.Nexus6,
	devices.Nexus6P,
	devices.Pixel2,
	devices.Pixel2XL,
	devices.LGOptimusL70,
	devices.NokiaN9,
	devices.NokiaLumia520,
	devices.MicrosoftLumia550,
	devices.MicrosoftLumia950,
	devices.GalaxySIII,
	devices.GalaxyS5,
	devices.JioPhone2,
	devices.KindleFireHDX,
	devices.IPadMini,
	devices.IPad,
	devices.IPadPro,
	devices.BlackberryPlayBook,
	devices.Nexus10,
	devices.Nexus7,
	devices.GalaxyNote3,
	devices.GalaxyNoteII,
	devices.MotoG4,
	devices.SurfaceDuo,
	devices.GalaxyFold,
}

// LookupDevice resolves a device title such as "iPhone X", case-insensitively.
// A trailing " landscape" selects the rotated screen.
func LookupDevice(name string) (devices.Device, error) {
	title := strings.TrimSpace(name)
	landscape := false
	if base, ok := cutSuffixFold(title, " landscape"); ok {
		title, landscape = strings.TrimSpace(base), true
	}
	for _, d := range knownDevices {
		if strings.EqualFold(d.Title, title) {
			if landscape {
				return d.Landscape(), nil
			}
			return d, nil
		}
	}
	return devices.Device{}, models.ConfigError("unknown mobile device %q", name)
}

func cutSuffixFold(s, suffix string) (string, bool) {
	if len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}
