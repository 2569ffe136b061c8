package inventory

import (
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

// parquetEntry mirrors the column layout of a Parquet inventory data file.
// The schema is carried by the file itself; only these columns are read.
type parquetEntry struct {
	Bucket           string `parquet:"name=bucket, type=BYTE_ARRAY, convertedtype=UTF8"`
	Key              string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size             int64  `parquet:"name=size, type=INT64"`
	LastModifiedDate int64  `parquet:"name=last_modified_date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// decodeParquet parses a Parquet inventory data file held in memory.
func decodeParquet(raw []byte) ([]Entry, error) {
	fr := buffer.NewBufferFileFromBytes(raw)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetEntry), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]parquetEntry, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Bucket:       row.Bucket,
			Key:          row.Key,
			Size:         row.Size,
			LastModified: time.UnixMilli(row.LastModifiedDate).UTC(),
		})
	}
	return entries, nil
}
