// Package models holds the native value types that appear inside document
// data, independent of any wire encoding.
package models

// GeoPoint is a geographic point value.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// NewGeoPoint returns a GeoPoint at the given coordinates.
func NewGeoPoint(latitude, longitude float64) GeoPoint {
	return GeoPoint{Latitude: latitude, Longitude: longitude}
}

// GetCoordinates returns the point as a [lat, lng] pair.
func (gp *GeoPoint) GetCoordinates() [2]float64 {
	return [2]float64{gp.Latitude, gp.Longitude}
}

// absentMarker is the type behind Absent.
type absentMarker struct{}

// Absent marks a field slot that carries no value at all, as opposed to an
// explicit null. It is never storable: encoding it is an error unless the
// codec is told to drop such slots.
var Absent any = absentMarker{}

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absentMarker)
	return ok
}
