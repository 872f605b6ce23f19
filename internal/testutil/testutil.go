// Package testutil provides shared test fixtures for building tracks,
// sections and registries.
//
// This package centralises common test helpers to reduce code duplication
// across test files.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/banshee-data/trackcount/internal/geometry"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

// Epoch is the reference time used by fixtures.
var Epoch = time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC)

// BoxSize is the width and height of fixture bounding boxes. With the
// default centre offset a fixture detection's reference point is its path
// point.
const BoxSize = 2.0

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Path builds detections whose bounding box centres follow the given points,
// one second apart starting at start.
func Path(start time.Time, label string, points ...geometry.Point) []track.Detection {
	detections := make([]track.Detection, len(points))
	for i, p := range points {
		detections[i] = track.Detection{
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			Frame:      i,
			X:          p.X - BoxSize/2,
			Y:          p.Y - BoxSize/2,
			Width:      BoxSize,
			Height:     BoxSize,
			Label:      label,
			Confidence: 0.9,
		}
	}
	return detections
}

// Track builds a track whose centres follow points, one second apart.
func Track(t testing.TB, id, label string, start time.Time, points ...geometry.Point) *track.Track {
	t.Helper()
	tr, err := track.New(id, Path(start, label, points...), nil)
	if err != nil {
		t.Fatalf("failed to build track %s: %v", id, err)
	}
	return tr
}

// Pt is shorthand for a geometry point.
func Pt(x, y float64) geometry.Point {
	return geometry.Point{X: x, Y: y}
}

// Line builds a line section between two points.
func Line(t testing.TB, id string, from, to geometry.Point) *section.Section {
	t.Helper()
	s, err := section.NewLineSection(id, id, []geometry.Point{from, to}, nil)
	if err != nil {
		t.Fatalf("failed to build line section %s: %v", id, err)
	}
	return s
}

// Rect builds an axis-aligned rectangular area section.
func Rect(t testing.TB, id string, minX, minY, maxX, maxY float64) *section.Section {
	t.Helper()
	s, err := section.NewAreaSection(id, id, []geometry.Point{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build area section %s: %v", id, err)
	}
	return s
}

// Registry builds a registry or fails the test.
func Registry(t testing.TB, sections []*section.Section, flows ...section.Flow) *section.Registry {
	t.Helper()
	r, err := section.NewRegistry(sections, flows)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return r
}

// Gate is the fixture layout used across package tests: two vertical lines
// at x=10 ("s1") and x=20 ("s2") spanning y in [0, 100], and a flow "f1"
// from s1 to s2.
func Gate(t testing.TB) *section.Registry {
	t.Helper()
	return Registry(t,
		[]*section.Section{
			Line(t, "s1", Pt(10, 0), Pt(10, 100)),
			Line(t, "s2", Pt(20, 0), Pt(20, 100)),
		},
		section.Flow{ID: "f1", Name: "s1 -> s2", Start: "s1", End: "s2"},
	)
}

// TrackIDs returns the ids of the given tracks.
func TrackIDs(tracks []*track.Track) []string {
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID()
	}
	return ids
}

// NumberedID formats fixture ids such as "track-007".
func NumberedID(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}
