package stac

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/digitalearthafrica/deafrica-sync/pkg/geojson"
)

// Attribute is one typed message attribute carried inside the work
// message body, mirroring the SNS attribute shape the ingestion workers
// expect.
type Attribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Envelope is the queue message body: a JSON-encoded payload plus its
// attributes.
type Envelope struct {
	Message    string               `json:"Message"`
	Attributes map[string]Attribute `json:"MessageAttributes"`
}

// MessageAttributes derives the attribute set for a STAC item: product,
// datetime, cloud cover, maturity and the bbox corners. Absent properties
// are simply omitted. When the item carries no bbox one is computed from
// its geometry.
func MessageAttributes(item *Item, product string) map[string]Attribute {
	attrs := map[string]Attribute{
		"product": {Type: "String", Value: product},
	}

	if dt, ok := item.Properties["datetime"].(string); ok && dt != "" {
		attrs["datetime"] = Attribute{Type: "String", Value: dt}
	}
	if cc, ok := numericProperty(item.Properties, "eo:cloud_cover"); ok {
		attrs["cloudcover"] = Attribute{Type: "Number", Value: formatNumber(cc)}
	}
	if maturity, ok := item.Properties["dea:dataset_maturity"].(string); ok && maturity != "" {
		attrs["maturity"] = Attribute{Type: "String", Value: maturity}
	}

	bbox := item.Bbox
	if len(bbox) < 4 {
		bbox = bboxFromGeometry(item.Geometry)
	}
	if len(bbox) >= 4 {
		attrs["bbox.ll_lon"] = Attribute{Type: "Number", Value: formatNumber(bbox[0])}
		attrs["bbox.ll_lat"] = Attribute{Type: "Number", Value: formatNumber(bbox[1])}
		attrs["bbox.ur_lon"] = Attribute{Type: "Number", Value: formatNumber(bbox[2])}
		attrs["bbox.ur_lat"] = Attribute{Type: "Number", Value: formatNumber(bbox[3])}
	}

	return attrs
}

// NewItemMessage builds the queue message body for a STAC item.
func NewItemMessage(item *Item, product string) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal STAC item: %w", err)
	}

	body, err := json.Marshal(Envelope{
		Message:    string(payload),
		Attributes: MessageAttributes(item, product),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message envelope: %w", err)
	}
	return string(body), nil
}

// LandsatDescriptor is the minimal work message used for Landsat scenes:
// the ingestion worker fetches the metadata itself, so only the product id
// and location travel on the queue.
type LandsatDescriptor struct {
	LandsatProductID string `json:"landsat_product_id"`
	S3Location       string `json:"s3_location"`
	UpdateStac       bool   `json:"update_stac"`
}

// NewLandsatMessage builds the queue message body for a Landsat scene
// path. The product id is the final path segment; a path with no final
// segment is an error.
func NewLandsatMessage(scenePath string, update bool) (string, error) {
	productID := lastSegment(scenePath)
	if productID == "" {
		return "", fmt.Errorf("could not build product id from path %q", scenePath)
	}

	body, err := json.Marshal(map[string]LandsatDescriptor{
		"Message": {
			LandsatProductID: productID,
			S3Location:       scenePath,
			UpdateStac:       update,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message for %s: %w", scenePath, err)
	}
	return string(body), nil
}

func lastSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func numericProperty(props map[string]any, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// bboxFromGeometry computes a bbox from a GeoJSON geometry value as held
// by a decoded STAC item. Unusable geometries yield nil.
func bboxFromGeometry(geometry any) []float64 {
	if geometry == nil {
		return nil
	}
	raw, err := json.Marshal(geometry)
	if err != nil {
		return nil
	}
	var geom geojson.Geometry
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil
	}
	bbox, err := geojson.ComputeBBox(&geom)
	if err != nil {
		return nil
	}
	return bbox
}
