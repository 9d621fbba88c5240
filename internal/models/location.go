package models

import (
	"time"
)

// LocationFix is one location measurement produced by a location source
type LocationFix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

// NewLocationFix creates a validated fix
func NewLocationFix(latitude, longitude float64, capturedAt time.Time) (LocationFix, error) {
	fix := LocationFix{
		Latitude:   latitude,
		Longitude:  longitude,
		CapturedAt: capturedAt.UTC(),
	}
	if err := fix.Validate(); err != nil {
		return LocationFix{}, err
	}
	return fix, nil
}

// Validate checks coordinate ranges
func (f LocationFix) Validate() error {
	if f.Latitude < -90 || f.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return ErrInvalidLongitude
	}
	if f.CapturedAt.IsZero() {
		return ErrMissingCaptureTime
	}
	return nil
}

// toDocument projects the fix into its stored map form
func (f LocationFix) toDocument() map[string]interface{} {
	return map[string]interface{}{
		FieldLatitude:   f.Latitude,
		FieldLongitude:  f.Longitude,
		FieldCapturedAt: f.CapturedAt,
	}
}

func locationFromValue(v interface{}) *LocationFix {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	lat, okLat := asFloat(m[FieldLatitude])
	lon, okLon := asFloat(m[FieldLongitude])
	if !okLat || !okLon {
		return nil
	}
	fix := &LocationFix{Latitude: lat, Longitude: lon}
	if at, ok := asTime(m[FieldCapturedAt]); ok {
		fix.CapturedAt = at
	}
	return fix
}

// Location errors
var (
	ErrInvalidLatitude    = LocationError{"latitude must be between -90 and 90"}
	ErrInvalidLongitude   = LocationError{"longitude must be between -180 and 180"}
	ErrMissingCaptureTime = LocationError{"fix capture time is required"}
)

type LocationError struct {
	Message string
}

func (e LocationError) Error() string {
	return e.Message
}
