// Package geometry holds the planar primitives shared by the section
// registry and the intersection engine: points, segments, polygons and the
// relative-offset reference point taken from a detection's bounding box.
//
// Coordinates are image pixels with the origin at the top-left corner of
// the video frame. All functions are pure.
package geometry
