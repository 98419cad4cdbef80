// Package volts converts high voltage setpoints and readbacks between
// decimal volts and the 4-digit hex register values used on the wire.
//
// The DAC (setpoint) and ADC (readback) paths have different full scale
// references, so the two directions use different factors and a
// value does not survive a round trip unchanged.
package volts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// EncodeFactor is counts per volt on the setpoint path.
	EncodeFactor = 65.535
	// DecodeFactor is counts per volt on the readback path.
	DecodeFactor = 53.686
	// FullScale is the largest register value.
	FullScale = 0xFFFF
)

// ParseError reports a malformed codec input.
type ParseError struct {
	Input string
	Err   error
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid voltage value %q: %v", e.Input, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Encode converts a decimal voltage to the 4 uppercase hex digit DAC
// value, rounded to the nearest count. The sign is ignored. Magnitudes
// beyond full scale saturate at FFFF.
func Encode(voltage string) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(voltage), 64)
	if err != nil {
		return "", &ParseError{Input: voltage, Err: err}
	}
	if math.IsNaN(v) {
		return "", &ParseError{Input: voltage, Err: fmt.Errorf("not a number")}
	}
	// nearest count, exact halves round toward zero: 900 V is
	// 58981.5 counts and must encode as E665.
	counts := math.Ceil(float64(math.Abs(v)*EncodeFactor) - 0.5)
	if counts >= FullScale {
		return "FFFF", nil
	}
	return fmt.Sprintf("%04X", uint16(counts)), nil
}

// Decode converts a hex ADC readback to signed decimal volts.
// Non-zero results are negative, the supply only produces negative
// polarity.
func Decode(hex string) (string, error) {
	hex = strings.TrimSpace(hex)
	if hex == "" {
		return "", &ParseError{Input: hex, Err: fmt.Errorf("empty")}
	}
	counts, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return "", &ParseError{Input: hex, Err: err}
	}
	v := int64(float64(counts)/DecodeFactor + 0.5)
	if v == 0 {
		return "0", nil
	}
	return "-" + strconv.FormatInt(v, 10), nil
}

// MustEncode is Encode for constant inputs, it panics on error.
func MustEncode(voltage string) string {
	s, err := Encode(voltage)
	if err != nil {
		panic(err)
	}
	return s
}
