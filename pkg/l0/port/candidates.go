package port

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang/glog"
)

// Offline ends a candidate list. Candidates after it are never tried.
const Offline = "OFFLINE"

// Auto expands to the serial ports present on the system.
const Auto = "auto"

// DefaultCandidates returns the platform's candidate list.
func DefaultCandidates() []string {
	return candidatesFor(runtime.GOOS)
}

func candidatesFor(goos string) []string {
	switch goos {
	case "linux":
		return []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2", Offline}
	case "windows":
		names := make([]string, 0, 100)
		for n := 99; n > 0; n-- {
			names = append(names, fmt.Sprintf("COM%d", n))
		}
		return append(names, Offline)
	case "darwin":
		return []string{"/dev/cu.usbmodem*", Offline}
	default:
		return []string{Auto, Offline}
	}
}

// ParseCandidates splits a comma separated list. An empty list gives
// the platform defaults.
func ParseCandidates(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return DefaultCandidates()
	}
	return names
}

// Expand resolves Auto entries and file globs, and truncates the list
// at Offline. Glob matches are tried in lexical order.
func Expand(names []string, system func() ([]string, error)) []string {
	var res []string
	for _, name := range names {
		if strings.EqualFold(name, Offline) {
			break
		}
		if isGlob(name) {
			matches, err := filepath.Glob(name)
			if err != nil {
				glog.Warningf("candidate %q: %v", name, err)
			}
			res = append(res, matches...)
			continue
		}
		if name != Auto {
			res = append(res, name)
			continue
		}
		if system == nil {
			continue
		}
		ports, err := system()
		if err != nil {
			glog.Warningf("list serial ports: %v", err)
			continue
		}
		res = append(res, ports...)
	}
	return res
}

// isGlob reports a device path with a wildcard. URLs are never globs.
func isGlob(name string) bool {
	return !strings.Contains(name, "://") && strings.Contains(name, "*")
}
