// Package env provides the process environment of a station.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID salts the machine ID so it is not exposed on the broker.
const AppID = "retrospex"

// MachineID retrieves the unique ID identifying the machine. It falls
// back to the host name when the platform has no machine ID.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil {
		return id[:16]
	}
	glog.Warningf("machine id: %v", err)
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
