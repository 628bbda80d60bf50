package types

import (
	"math"
	"regexp"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var hardwareIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// MaxDurationMinutes caps a single session at one week.
const MaxDurationMinutes = 7 * 24 * 60

// Validate checks a session before it is persisted.
func (s *Session) Validate() error {
	if s.ClientID == "" {
		return ErrInvalidClientID
	}
	if err := ValidateDuration(s.DurationMinutes); err != nil {
		return err
	}
	return ValidateTariff(s.CostPerHour)
}

// Validate checks a registration announced by a client.
func (r Registration) Validate() error {
	if !IsValidHardwareID(r.HardwareID) {
		return ErrInvalidHardwareID
	}
	if !IsValidClientName(r.Name) {
		return ErrInvalidClientName
	}
	return nil
}

// ValidateDuration accepts 0 (unlimited) or 1..MaxDurationMinutes.
func ValidateDuration(minutes int) error {
	if minutes < 0 || minutes > MaxDurationMinutes {
		return ErrInvalidDuration
	}
	return nil
}

// ValidateTariff rejects negative, NaN and infinite rates.
func ValidateTariff(costPerHour float64) error {
	if math.IsNaN(costPerHour) || math.IsInf(costPerHour, 0) || costPerHour < 0 {
		return ErrInvalidTariff
	}
	return nil
}

// IsValidHardwareID checks the stable identifier a client registers with.
func IsValidHardwareID(hwid string) bool {
	if len(hwid) < 1 || len(hwid) > 128 {
		return false
	}
	return hardwareIDRegex.MatchString(hwid)
}

// IsValidClientName checks the display name length in characters.
func IsValidClientName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= 100
}
