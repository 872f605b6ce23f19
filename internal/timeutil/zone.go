package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone lookups work without a system tz database
)

// LoadZone resolves an IANA zone name from the tz database. An empty name
// and "UTC" both mean UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}

// IsZoneValid reports whether name resolves with LoadZone.
func IsZoneValid(name string) bool {
	_, err := LoadZone(name)
	return err == nil
}
