// Package ingest reads the JSON interchange documents that carry tracks,
// sections and flows into the analysis.
//
// Tracks file:
//
//	{"tracks": [{"id": "t1", "detections": [
//	    {"timestamp": "2024-05-14T08:00:00Z", "frame": 0,
//	     "x": 10, "y": 20, "w": 4, "h": 2, "label": "car", "confidence": 0.9}]}]}
//
// Sections file:
//
//	{"sections": [{"id": "s1", "name": "North", "type": "line",
//	    "coordinates": [{"x": 0, "y": 0}, {"x": 10, "y": 0}],
//	    "offsets": {"section-crossing": {"x": 0.5, "y": 1}}}],
//	 "flows": [{"id": "f1", "start": "s1", "end": "s2", "distance": 12.5}]}
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/geometry"
	"github.com/banshee-data/trackcount/internal/monitoring"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

var logf = monitoring.Component("ingest")

// DetectionJSON is one detection in a tracks file.
type DetectionJSON struct {
	Timestamp  time.Time `json:"timestamp"`
	Frame      int       `json:"frame"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	W          float64   `json:"w"`
	H          float64   `json:"h"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// TrackJSON is one track in a tracks file.
type TrackJSON struct {
	ID         string          `json:"id"`
	Detections []DetectionJSON `json:"detections"`
}

// TracksFile is the top-level tracks document.
type TracksFile struct {
	Tracks []TrackJSON `json:"tracks"`
}

// PointJSON is a section vertex.
type PointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SectionJSON is one section in a sections file.
type SectionJSON struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Type        string               `json:"type"`
	Coordinates []PointJSON          `json:"coordinates"`
	Offsets     map[string]PointJSON `json:"offsets,omitempty"`
}

// FlowJSON is one flow in a sections file.
type FlowJSON struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Distance *float64 `json:"distance,omitempty"`
}

// SectionsFile is the top-level sections document.
type SectionsFile struct {
	Sections []SectionJSON `json:"sections"`
	Flows    []FlowJSON    `json:"flows,omitempty"`
}

func (d DetectionJSON) detection() track.Detection {
	return track.Detection{
		Timestamp:  d.Timestamp,
		Frame:      d.Frame,
		X:          d.X,
		Y:          d.Y,
		Width:      d.W,
		Height:     d.H,
		Label:      d.Label,
		Confidence: d.Confidence,
	}
}

// ReadTracks decodes a tracks document into store. Single-detection tracks
// are discarded by the store; any other malformed track is an error.
func ReadTracks(r io.Reader, store *track.Store, resolver *track.ClassResolver) error {
	dec := newTrackDecoder(r)
	for {
		tj, err := dec.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := store.AddDetections(tj.ID, tj.detections(), resolver); err != nil {
			return err
		}
	}
}

// LoadTracks reads every tracks file into a new store, in argument order.
// Unlike OpenTracks it accepts files in any start order, at the cost of
// holding every track in memory.
func LoadTracks(paths []string, resolver *track.ClassResolver) (*track.Store, error) {
	store := track.NewStore()
	for _, path := range paths {
		if err := readFile(path, func(r io.Reader) error {
			return ReadTracks(r, store, resolver)
		}); err != nil {
			return nil, err
		}
	}
	logf("Loaded %d tracks from %d file(s), discarded %d", store.Len(), len(paths), store.Discarded())
	return store, nil
}

// DecodeSections decodes a sections document without validating it.
func DecodeSections(r io.Reader) (SectionsFile, error) {
	var doc SectionsFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return SectionsFile{}, fmt.Errorf("failed to decode sections: %w", err)
	}
	return doc, nil
}

// Registry validates the document and builds a section registry.
func (doc SectionsFile) Registry() (*section.Registry, error) {
	sections := make([]*section.Section, 0, len(doc.Sections))
	for _, sj := range doc.Sections {
		s, err := sj.section()
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	flows := make([]section.Flow, len(doc.Flows))
	for i, fj := range doc.Flows {
		flows[i] = section.Flow{ID: fj.ID, Name: fj.Name, Start: fj.Start, End: fj.End, Distance: fj.Distance}
	}
	return section.NewRegistry(sections, flows)
}

func (sj SectionJSON) section() (*section.Section, error) {
	points := make([]geometry.Point, len(sj.Coordinates))
	for i, p := range sj.Coordinates {
		points[i] = geometry.Point{X: p.X, Y: p.Y}
	}
	var offsets section.Offsets
	if len(sj.Offsets) > 0 {
		offsets = make(section.Offsets, len(sj.Offsets))
		for name, o := range sj.Offsets {
			typ, err := event.ParseType(name)
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", sj.ID, err)
			}
			offsets[typ] = geometry.RelativeOffset{X: o.X, Y: o.Y}
		}
	}
	switch section.Kind(sj.Type) {
	case section.KindLine:
		return section.NewLineSection(sj.ID, sj.Name, points, offsets)
	case section.KindArea:
		return section.NewAreaSection(sj.ID, sj.Name, points, offsets)
	default:
		return nil, fmt.Errorf("section %s: unknown type %q", sj.ID, sj.Type)
	}
}

// ReadSections decodes and validates a sections document.
func ReadSections(r io.Reader) (*section.Registry, error) {
	doc, err := DecodeSections(r)
	if err != nil {
		return nil, err
	}
	return doc.Registry()
}

// LoadSections reads a sections file.
func LoadSections(path string) (*section.Registry, error) {
	var registry *section.Registry
	err := readFile(path, func(r io.Reader) error {
		var err error
		registry, err = ReadSections(r)
		return err
	})
	return registry, err
}

// FromRegistry converts a registry back into its document form.
func FromRegistry(registry *section.Registry) SectionsFile {
	var doc SectionsFile
	for _, s := range registry.Sections() {
		sj := SectionJSON{ID: s.ID(), Name: s.Name(), Type: string(s.Kind())}
		for _, p := range s.Points() {
			sj.Coordinates = append(sj.Coordinates, PointJSON{X: p.X, Y: p.Y})
		}
		sj.Offsets = make(map[string]PointJSON, len(event.Types))
		for _, typ := range event.Types {
			o := s.Offset(typ)
			sj.Offsets[string(typ)] = PointJSON{X: o.X, Y: o.Y}
		}
		doc.Sections = append(doc.Sections, sj)
	}
	for _, f := range registry.Flows() {
		doc.Flows = append(doc.Flows, FlowJSON{ID: f.ID, Name: f.Name, Start: f.Start, End: f.End, Distance: f.Distance})
	}
	return doc
}

// WriteSections encodes doc as indented JSON.
func WriteSections(w io.Writer, doc SectionsFile) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
