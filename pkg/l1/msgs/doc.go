// Package msgs provides the wire form of spectrometer events.
package msgs

// Events are published by a station and consumed by monitors. Each
// event is a protobuf Struct so monitors decode it without generated
// schemas.
//
// Producer: scanit
// Consumer: spexmon, dashboards
