// Package l1 describes a spectrometer station as seen over the
// network: its identity, its published metadata and the means to find
// stations.
package l1

import (
	"context"
)

// StationType is the type segment of every spectrometer station ref.
const StationType = "retrospex"

// StationRef is a reference to a station.
type StationRef struct {
	// Type is the instrument type.
	Type string
	// ID is unique ID of the host.
	ID string
}

// Name retrieves the name from ref.
func (r StationRef) Name() string {
	return r.Type + "/" + r.ID
}

// IsValid indicates StationRef is valid.
func (r StationRef) IsValid() bool {
	return r.Type != "" && r.ID != ""
}

// Topic returns the topic of kind under the station.
func (r StationRef) Topic(kind string) string {
	return r.Name() + "/" + kind
}

// StationMeta is the retained metadata of a station.
type StationMeta struct {
	Description string            `json:"description,omitempty"`
	Port        string            `json:"port,omitempty"`
	Firmware    string            `json:"firmware,omitempty"`
	Online      bool              `json:"online"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// StationInfo provides information of a station.
type StationInfo struct {
	Ref  StationRef
	Meta StationMeta
}

// Connector finds stations.
type Connector interface {
	// Discover enumerates live stations.
	Discover(context.Context) ([]StationInfo, error)
}
