// Package comm provides the line protocol spoken with the spectrometer
// firmware over a serial link.
//
// Every command is a short ASCII line. The firmware echoes the command
// (or a readback beginning with the command letter) when it is done,
// replies with the single token "e" when it could not parse what it
// received, and emits unsolicited lines for front panel events
// ("# n") and alerts ("! nn").
//
// Only one command is outstanding at a time. Commands are queued and
// sent in order, each one after the previous is answered, dropped or
// timed out. All types in this package are driven from a single
// goroutine (see framework.Loop) and are not safe for concurrent use.
package comm
