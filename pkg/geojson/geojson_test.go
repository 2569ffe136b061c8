package geojson

import (
	"encoding/json"
	"math"
	"testing"
)

func TestPoint(t *testing.T) {
	coords := []float64{-122.4, 37.8}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Point",
		Coordinates: coordsJSON,
	}

	result, err := g.Point()
	if err != nil {
		t.Fatalf("Point() error: %v", err)
	}

	if len(result) != 2 || result[0] != -122.4 || result[1] != 37.8 {
		t.Errorf("Point() = %v, want [-122.4, 37.8]", result)
	}
}

func TestPoint_WrongType(t *testing.T) {
	coords := [][]float64{{-122.4, 37.8}, {-122.5, 37.9}}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "LineString",
		Coordinates: coordsJSON,
	}

	_, err := g.Point()
	if err == nil {
		t.Error("Point() should return error for non-Point geometry")
	}
}

func TestLineString(t *testing.T) {
	coords := [][]float64{{-122.4, 37.8}, {-122.5, 37.9}}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "LineString",
		Coordinates: coordsJSON,
	}

	result, err := g.LineString()
	if err != nil {
		t.Fatalf("LineString() error: %v", err)
	}

	if len(result) != 2 {
		t.Errorf("LineString() length = %d, want 2", len(result))
	}
}

func TestPolygon(t *testing.T) {
	coords := [][][]float64{
		{{-122.4, 37.8}, {-122.5, 37.8}, {-122.5, 37.9}, {-122.4, 37.9}, {-122.4, 37.8}},
	}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}

	result, err := g.Polygon()
	if err != nil {
		t.Fatalf("Polygon() error: %v", err)
	}

	if len(result) != 1 || len(result[0]) != 5 {
		t.Errorf("Polygon() structure incorrect")
	}
}

func TestMultiPolygon(t *testing.T) {
	coords := [][][][]float64{
		{
			{{-122.4, 37.8}, {-122.5, 37.8}, {-122.5, 37.9}, {-122.4, 37.9}, {-122.4, 37.8}},
		},
		{
			{{-123.4, 38.8}, {-123.5, 38.8}, {-123.5, 38.9}, {-123.4, 38.9}, {-123.4, 38.8}},
		},
	}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "MultiPolygon",
		Coordinates: coordsJSON,
	}

	result, err := g.MultiPolygon()
	if err != nil {
		t.Fatalf("MultiPolygon() error: %v", err)
	}

	if len(result) != 2 {
		t.Errorf("MultiPolygon() length = %d, want 2", len(result))
	}
}

func TestComputeBBox_Point(t *testing.T) {
	coords := []float64{-122.4, 37.8}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Point",
		Coordinates: coordsJSON,
	}

	bbox, err := ComputeBBox(g)
	if err != nil {
		t.Fatalf("ComputeBBox() error: %v", err)
	}

	expected := []float64{-122.4, 37.8, -122.4, 37.8}
	if !floatSlicesEqual(bbox, expected) {
		t.Errorf("ComputeBBox() = %v, want %v", bbox, expected)
	}
}

func TestComputeBBox_Polygon(t *testing.T) {
	coords := [][][]float64{
		{{-122.5, 37.8}, {-122.4, 37.8}, {-122.4, 37.9}, {-122.5, 37.9}, {-122.5, 37.8}},
	}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}

	bbox, err := ComputeBBox(g)
	if err != nil {
		t.Fatalf("ComputeBBox() error: %v", err)
	}

	expected := []float64{-122.5, 37.8, -122.4, 37.9}
	if !floatSlicesEqual(bbox, expected) {
		t.Errorf("ComputeBBox() = %v, want %v", bbox, expected)
	}
}

func TestComputeBBox_MultiPolygon(t *testing.T) {
	coords := [][][][]float64{
		{
			{{-122.5, 37.8}, {-122.4, 37.8}, {-122.4, 37.9}, {-122.5, 37.9}, {-122.5, 37.8}},
		},
		{
			{{-123.5, 38.8}, {-123.4, 38.8}, {-123.4, 38.9}, {-123.5, 38.9}, {-123.5, 38.8}},
		},
	}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "MultiPolygon",
		Coordinates: coordsJSON,
	}

	bbox, err := ComputeBBox(g)
	if err != nil {
		t.Fatalf("ComputeBBox() error: %v", err)
	}

	// Should span both polygons
	expected := []float64{-123.5, 37.8, -122.4, 38.9}
	if !floatSlicesEqual(bbox, expected) {
		t.Errorf("ComputeBBox() = %v, want %v", bbox, expected)
	}
}

func TestBBoxMethod(t *testing.T) {
	coords := []float64{-122.4, 37.8}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Point",
		Coordinates: coordsJSON,
	}

	bbox1, err1 := g.BBox()
	bbox2, err2 := ComputeBBox(g)

	if err1 != nil || err2 != nil {
		t.Fatalf("BBox() errors: %v, %v", err1, err2)
	}

	if !floatSlicesEqual(bbox1, bbox2) {
		t.Errorf("BBox() and ComputeBBox() should return same result")
	}
}

func TestComputeBBox_NilGeometry(t *testing.T) {
	_, err := ComputeBBox(nil)
	if err == nil {
		t.Error("ComputeBBox(nil) should return error")
	}
}

func TestComputeBBox_UnsupportedType(t *testing.T) {
	coordsJSON := json.RawMessage(`[]`)
	g := &Geometry{
		Type:        "GeometryCollection",
		Coordinates: coordsJSON,
	}

	_, err := ComputeBBox(g)
	if err == nil {
		t.Error("ComputeBBox() should return error for unsupported type")
	}
}

func TestJSONMarshaling(t *testing.T) {
	coords := []float64{-122.4, 37.8}
	coordsJSON, _ := json.Marshal(coords)
	original := &Geometry{
		Type:        "Point",
		Coordinates: coordsJSON,
	}

	// Marshal to JSON
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}

	// Unmarshal from JSON
	var result Geometry
	err = json.Unmarshal(data, &result)
	if err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}

	if result.Type != original.Type {
		t.Errorf("Type mismatch after JSON round trip: %s != %s", result.Type, original.Type)
	}

	// Verify coordinates
	originalCoords, _ := original.Point()
	resultCoords, _ := result.Point()

	if !floatSlicesEqual(originalCoords, resultCoords) {
		t.Errorf("Coordinates mismatch after JSON round trip: %v != %v", originalCoords, resultCoords)
	}
}

func TestPolygonWithHole(t *testing.T) {
	// Polygon with exterior ring and one hole
	coords := [][][]float64{
		// Exterior ring
		{{-122.5, 37.8}, {-122.4, 37.8}, {-122.4, 37.9}, {-122.5, 37.9}, {-122.5, 37.8}},
		// Hole
		{{-122.48, 37.82}, {-122.42, 37.82}, {-122.42, 37.88}, {-122.48, 37.88}, {-122.48, 37.82}},
	}
	coordsJSON, _ := json.Marshal(coords)
	g := &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}

	rings, err := g.Polygon()
	if err != nil {
		t.Fatalf("Polygon() error: %v", err)
	}

	if len(rings) != 2 {
		t.Errorf("Expected 2 rings (exterior + hole), got %d", len(rings))
	}

	// The hole must not shrink the bounding box
	bbox, err := ComputeBBox(g)
	if err != nil {
		t.Fatalf("ComputeBBox() error: %v", err)
	}

	expected := []float64{-122.5, 37.8, -122.4, 37.9}
	if !floatSlicesEqual(bbox, expected) {
		t.Errorf("ComputeBBox() = %v, want %v", bbox, expected)
	}
}

func floatSlicesEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	const epsilon = 1e-9
	for i := range a {
		if math.Abs(a[i]-b[i]) > epsilon {
			return false
		}
	}
	return true
}
