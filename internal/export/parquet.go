// Package export writes aligned series as parquet files to a local
// directory and, optionally, to S3.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/storage"
)

type seriesParquetRecord struct {
	Exchange   string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Instrument string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Interval   string  `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Open       float64 `parquet:"name=open, type=DOUBLE"`
	High       float64 `parquet:"name=high, type=DOUBLE"`
	Low        float64 `parquet:"name=low, type=DOUBLE"`
	Close      float64 `parquet:"name=close, type=DOUBLE"`
	Volume     float64 `parquet:"name=volume, type=DOUBLE"`
	OIOpen     float64 `parquet:"name=oi_open, type=DOUBLE"`
	OIHigh     float64 `parquet:"name=oi_high, type=DOUBLE"`
	OILow      float64 `parquet:"name=oi_low, type=DOUBLE"`
	OIClose    float64 `parquet:"name=oi_close, type=DOUBLE"`
	FROpen     float64 `parquet:"name=fr_open, type=DOUBLE"`
	FRHigh     float64 `parquet:"name=fr_high, type=DOUBLE"`
	FRLow      float64 `parquet:"name=fr_low, type=DOUBLE"`
	FRClose    float64 `parquet:"name=fr_close, type=DOUBLE"`
}

// memFile is a write-only in-memory source.ParquetFile.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// EncodeParquet renders series as one parquet file. compression is snappy
// (default), gzip or none.
func EncodeParquet(key storage.SeriesKey, series *models.AlignedSeries, compression string) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(seriesParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range series.Rows() {
		rec := seriesParquetRecord{
			Exchange:   key.Exchange,
			Instrument: key.Instrument,
			Interval:   key.Interval,
			Timestamp:  row.Timestamp.UnixMilli(),
			Open:       row.Open,
			High:       row.High,
			Low:        row.Low,
			Close:      row.Close,
			Volume:     row.Volume,
			OIOpen:     row.OI.Open,
			OIHigh:     row.OI.High,
			OILow:      row.OI.Low,
			OIClose:    row.OI.Close,
			FROpen:     row.FR.Open,
			FRHigh:     row.FR.High,
			FRLow:      row.FR.Low,
			FRClose:    row.FR.Close,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}
