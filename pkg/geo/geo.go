package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.orb(), p2.orb())
}

// Bound is a lat/lon bounding box.
type Bound struct {
	South, West, North, East float64
}

// BoundAround returns the box enclosing a circle of radius meters around p.
func BoundAround(p Point, radius float64) Bound {
	b := orbgeo.NewBoundAroundPoint(p.orb(), radius)
	return Bound{South: b.Min.Lat(), West: b.Min.Lon(), North: b.Max.Lat(), East: b.Max.Lon()}
}

// Contains reports whether the box contains p.
func (b Bound) Contains(p Point) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lon >= b.West && p.Lon <= b.East
}

// Boundary is a place outline. The zero value contains nothing.
type Boundary struct {
	geom orb.Geometry
}

// ParseBoundary reads a GeoJSON geometry. Only polygons and multipolygons are accepted.
func ParseBoundary(data []byte) (*Boundary, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boundary: %w", err)
	}
	switch g.Geometry().(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return nil, fmt.Errorf("unsupported boundary geometry: %s", g.Geometry().GeoJSONType())
	}
	return &Boundary{geom: g.Geometry()}, nil
}

// Contains checks if the outline contains a point.
func (b *Boundary) Contains(p Point) bool {
	if b == nil {
		return false
	}
	pt := p.orb()
	switch g := b.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

// Area returns the outline area in square meters.
func (b *Boundary) Area() float64 {
	if b == nil {
		return 0
	}
	return math.Abs(orbgeo.Area(b.geom))
}

// Bound returns the bounding box of the outline.
func (b *Boundary) Bound() Bound {
	if b == nil {
		return Bound{}
	}
	bb := b.geom.Bound()
	return Bound{South: bb.Min.Lat(), West: bb.Min.Lon(), North: bb.Max.Lat(), East: bb.Max.Lon()}
}
