package inventory

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/writer"
)

// fakeStore serves objects and directory listings from maps.
type fakeStore struct {
	objects  map[string][]byte
	listings map[string][]string
}

func (f *fakeStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	body, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", uri)
	}
	return body, nil
}

func (f *fakeStore) ListDir(_ context.Context, uri string) ([]string, error) {
	listing, ok := f.listings[uri]
	if !ok {
		return nil, fmt.Errorf("no such prefix: %s", uri)
	}
	return listing, nil
}

func gzipCSV(rows string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(rows))
	gz.Close()
	return buf.Bytes()
}

const manifestJSON = `{
	"sourceBucket": "sentinel-cogs",
	"destinationBucket": "arn:aws:s3:::sentinel-cogs-inventory",
	"fileFormat": "CSV",
	"fileSchema": "Bucket, Key, Size, LastModifiedDate",
	"files": [{"key": "data/part-0.csv.gz", "size": 123}]
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestJSON))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	if m.BucketName() != "sentinel-cogs-inventory" {
		t.Errorf("Expected bucket sentinel-cogs-inventory, got %s", m.BucketName())
	}

	uris := m.DataFileURIs()
	if len(uris) != 1 || uris[0] != "s3://sentinel-cogs-inventory/data/part-0.csv.gz" {
		t.Errorf("Unexpected data file URIs: %v", uris)
	}

	schema := m.Schema()
	want := []string{"Bucket", "Key", "Size", "LastModifiedDate"}
	if len(schema) != len(want) {
		t.Fatalf("Expected %d columns, got %d", len(want), len(schema))
	}
	for i := range want {
		if schema[i] != want[i] {
			t.Errorf("schema[%d] = %s, want %s", i, schema[i], want[i])
		}
	}
}

func TestParseManifest_MissingKeys(t *testing.T) {
	_, err := ParseManifest([]byte(`{"fileFormat": "CSV"}`))
	if err == nil {
		t.Fatal("Expected error for manifest with missing keys")
	}

	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("Expected ManifestError, got %T", err)
	}
}

func TestParseManifest_UnsupportedFormat(t *testing.T) {
	doc := `{
		"destinationBucket": "arn:aws:s3:::b",
		"fileFormat": "ORC",
		"fileSchema": "Bucket, Key",
		"files": []
	}`
	_, err := ParseManifest([]byte(doc))
	if err == nil {
		t.Fatal("Expected error for ORC format")
	}

	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("Expected ManifestError, got %T", err)
	}
}

func TestFindLatestManifest(t *testing.T) {
	store := &fakeStore{
		listings: map[string][]string{
			"s3://inv/prefix/": {
				"s3://inv/prefix/2024-01-01T00-00Z/",
				"s3://inv/prefix/2024-03-01T00-00Z/",
				"s3://inv/prefix/2024-02-01T00-00Z/",
				"s3://inv/prefix/hive/",
				"s3://inv/prefix/data.txt",
			},
		},
	}

	got, err := FindLatestManifest(context.Background(), store, "s3://inv/prefix/")
	if err != nil {
		t.Fatalf("FindLatestManifest failed: %v", err)
	}
	want := "s3://inv/prefix/2024-03-01T00-00Z/manifest.json"
	if got != want {
		t.Errorf("FindLatestManifest = %s, want %s", got, want)
	}
}

func TestFindLatestManifest_NoneFound(t *testing.T) {
	store := &fakeStore{
		listings: map[string][]string{
			"s3://inv/prefix/": {"s3://inv/prefix/hive/"},
		},
	}

	if _, err := FindLatestManifest(context.Background(), store, "s3://inv/prefix/"); err == nil {
		t.Error("Expected error when no timestamped folder present")
	}
}

func TestKeyFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter KeyFilter
		key    string
		want   bool
	}{
		{"empty filter accepts all", KeyFilter{}, "any/key.json", true},
		{"prefix match", KeyFilter{Prefix: "collection02"}, "collection02/x/y_stac.json", true},
		{"prefix miss", KeyFilter{Prefix: "collection02"}, "other/x.json", false},
		{"suffix match", KeyFilter{Suffix: "_stac.json"}, "a/b_stac.json", true},
		{"suffix miss", KeyFilter{Suffix: "_stac.json"}, "a/b.tif", false},
		{"contains any of", KeyFilter{Contains: []string{"LC08", "LC09"}}, "c2/LC09_x_stac.json", true},
		{"contains none of", KeyFilter{Contains: []string{"LC08", "LC09"}}, "c2/LE07_x_stac.json", false},
		{
			"sidecar excluded",
			KeyFilter{Contains: []string{".json"}, NotContains: []string{"tileinfo_metadata.json", "tileInfo.json"}},
			"sentinel-2-c1-l2a/x/S2A_T30NYL_1/tileinfo_metadata.json",
			false,
		},
		{
			"alternate sidecar excluded",
			KeyFilter{Contains: []string{".json"}, NotContains: []string{"tileinfo_metadata.json", "tileInfo.json"}},
			"sentinel-2-c1-l2a/x/S2A_T30NYL_1/tileInfo.json",
			false,
		},
		{
			"dataset document passes exclusion",
			KeyFilter{Contains: []string{".json"}, NotContains: []string{"tileinfo_metadata.json", "tileInfo.json"}},
			"sentinel-2-c1-l2a/x/S2A_T30NYL_1/S2A_T30NYL_1.json",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.key); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestDecodeCSV(t *testing.T) {
	raw := gzipCSV(
		"\"sentinel-cogs\",\"scenes/S2A_1/scene.json\",\"512\",\"2024-01-02T03:04:05.000Z\"\n" +
			"\"sentinel-cogs\",\"scenes/S2B_2/scene.json\",\"1024\",\"2024-01-03T00:00:00.000Z\"\n",
	)

	entries, err := decodeCSV(raw, []string{"Bucket", "Key", "Size", "LastModifiedDate"})
	if err != nil {
		t.Fatalf("decodeCSV failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "scenes/S2A_1/scene.json" {
		t.Errorf("Unexpected key: %s", entries[0].Key)
	}
	if entries[0].Size != 512 {
		t.Errorf("Expected size 512, got %d", entries[0].Size)
	}
	if entries[0].LastModified.IsZero() {
		t.Error("Expected LastModified to be parsed")
	}
}

func writeParquet(t *testing.T, rows []parquetEntry) []byte {
	t.Helper()
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(parquetEntry), 1)
	if err != nil {
		t.Fatalf("failed to create parquet writer: %v", err)
	}
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			t.Fatalf("failed to write parquet row: %v", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		t.Fatalf("failed to finish parquet file: %v", err)
	}
	return fw.Bytes()
}

func TestDecodeParquet(t *testing.T) {
	modified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := writeParquet(t, []parquetEntry{
		{
			Bucket:           "sentinel-cogs",
			Key:              "scenes/S2A_1/scene.json",
			Size:             512,
			LastModifiedDate: modified.UnixMilli(),
		},
		{
			Bucket:           "sentinel-cogs",
			Key:              "scenes/S2B_2/scene.json",
			Size:             1024,
			LastModifiedDate: modified.Add(24 * time.Hour).UnixMilli(),
		},
	})

	entries, err := decodeParquet(raw)
	if err != nil {
		t.Fatalf("decodeParquet failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Bucket != "sentinel-cogs" {
		t.Errorf("Unexpected bucket: %s", entries[0].Bucket)
	}
	if entries[0].Key != "scenes/S2A_1/scene.json" {
		t.Errorf("Unexpected key: %s", entries[0].Key)
	}
	if entries[0].Size != 512 {
		t.Errorf("Expected size 512, got %d", entries[0].Size)
	}
	if !entries[0].LastModified.Equal(modified) {
		t.Errorf("Expected LastModified %v, got %v", modified, entries[0].LastModified)
	}
	if entries[1].Key != "scenes/S2B_2/scene.json" {
		t.Errorf("Unexpected key: %s", entries[1].Key)
	}
}

func TestDecodeParquet_Garbage(t *testing.T) {
	if _, err := decodeParquet([]byte("not a parquet file")); err == nil {
		t.Fatal("Expected error for non-parquet bytes")
	}
}

func TestReader_List(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{
			"s3://inv/prefix/2024-01-01T00-00Z/manifest.json": []byte(`{
				"destinationBucket": "arn:aws:s3:::sentinel-cogs-inventory",
				"fileFormat": "CSV",
				"fileSchema": "Bucket, Key, Size, LastModifiedDate",
				"files": [
					{"key": "data/part-0.csv.gz", "size": 1},
					{"key": "data/part-1.csv.gz", "size": 1}
				]
			}`),
			"s3://sentinel-cogs-inventory/data/part-0.csv.gz": gzipCSV(
				"\"b\",\"scenes/S2A_1/scene.json\",\"1\",\"2024-01-01T00:00:00.000Z\"\n" +
					"\"b\",\"scenes/S2A_1/thumbnail.png\",\"1\",\"2024-01-01T00:00:00.000Z\"\n",
			),
			"s3://sentinel-cogs-inventory/data/part-1.csv.gz": gzipCSV(
				"\"b\",\"scenes/S2B_2/scene.json\",\"1\",\"2024-01-01T00:00:00.000Z\"\n",
			),
		},
		listings: map[string][]string{
			"s3://inv/prefix/": {"s3://inv/prefix/2024-01-01T00-00Z/"},
		},
	}

	rdr := NewReader(store)
	keys, err := rdr.ListKeys(context.Background(), "s3://inv/prefix/", KeyFilter{Suffix: ".json"})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}

	sort.Strings(keys)
	want := []string{"scenes/S2A_1/scene.json", "scenes/S2B_2/scene.json"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestReader_List_Parquet(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{
			"s3://inv/prefix/2024-01-01T00-00Z/manifest.json": []byte(`{
				"destinationBucket": "arn:aws:s3:::sentinel-cogs-inventory",
				"fileFormat": "PARQUET",
				"fileSchema": "message s3.inventory { required binary bucket; }",
				"files": [{"key": "data/part-0.parquet", "size": 1}]
			}`),
			"s3://sentinel-cogs-inventory/data/part-0.parquet": writeParquet(t, []parquetEntry{
				{
					Bucket:           "b",
					Key:              "scenes/S2A_1/scene.json",
					Size:             1,
					LastModifiedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
				},
				{
					Bucket:           "b",
					Key:              "scenes/S2A_1/thumbnail.png",
					Size:             1,
					LastModifiedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
				},
			}),
		},
		listings: map[string][]string{
			"s3://inv/prefix/": {"s3://inv/prefix/2024-01-01T00-00Z/"},
		},
	}

	rdr := NewReader(store)
	keys, err := rdr.ListKeys(context.Background(), "s3://inv/prefix/", KeyFilter{Suffix: ".json"})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}

	if len(keys) != 1 || keys[0] != "scenes/S2A_1/scene.json" {
		t.Fatalf("Expected the scene document only, got %v", keys)
	}
}

func TestReader_List_ManifestError(t *testing.T) {
	store := &fakeStore{
		objects: map[string][]byte{
			"s3://inv/manifest.json": []byte(`{"fileFormat": "CSV"}`),
		},
	}

	rdr := NewReader(store)
	_, err := rdr.ListKeys(context.Background(), "s3://inv/manifest.json", KeyFilter{})
	if err == nil {
		t.Fatal("Expected manifest error")
	}
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("Expected ManifestError, got %T: %v", err, err)
	}
}
