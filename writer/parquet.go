package writer

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"gachasync/models"
)

// ParquetRecord is the columnar layout of an exported pull.
type ParquetRecord struct {
	UserKey  string `parquet:"name=user_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind     string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	PoolKey  string `parquet:"name=pool_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	SeqID    string `parquet:"name=seq_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemID   string `parquet:"name=item_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemName string `parquet:"name=item_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rarity   int32  `parquet:"name=rarity, type=INT32"`
	GachaTs  int64  `parquet:"name=gacha_ts, type=INT64"`
	IsNew    bool   `parquet:"name=is_new, type=BOOLEAN"`
	IsFree   bool   `parquet:"name=is_free, type=BOOLEAN"`
	PoolID   string `parquet:"name=pool_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PoolName string `parquet:"name=pool_name, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFile is a write-only in-memory parquet target.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (f *memoryFile) Create(string) (source.ParquetFile, error) { return f, nil }
func (f *memoryFile) Open(string) (source.ParquetFile, error) { return f, nil }

// Seek only reports the current size; the parquet writer never seeks backwards.
func (f *memoryFile) Seek(int64, int) (int64, error) { return int64(f.buffer.Len()), nil }
func (f *memoryFile) Read(b []byte) (int, error) { return f.buffer.Read(b) }
func (f *memoryFile) Write(b []byte) (int, error) { return f.buffer.Write(b) }
func (f *memoryFile) Close() error { return nil }
func (f *memoryFile) Bytes() []byte { return f.buffer.Bytes() }

// ParquetRow is a record together with the pool key it is stored under.
type ParquetRow struct {
	PoolKey string
	Record  models.PullRecord
}

// RowsFromHistory flattens a history into rows ordered by pool key.
func RowsFromHistory(history models.PoolHistory, keys []string) []ParquetRow {
	rows := make([]ParquetRow, 0, history.Count())
	for _, key := range keys {
		for _, r := range history[key] {
			rows = append(rows, ParquetRow{PoolKey: key, Record: r})
		}
	}
	return rows
}

// EncodeParquet writes rows into an in-memory parquet file.
func EncodeParquet(userKey string, kind models.RecordKind, rows []ParquetRow, compression string) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		r := row.Record
		ts, _ := strconv.ParseInt(r.GachaTs, 10, 64)
		rec := ParquetRecord{
			UserKey:  userKey,
			Kind:     string(kind),
			PoolKey:  row.PoolKey,
			SeqID:    r.SeqID,
			ItemID:   r.ItemID,
			ItemName: r.ItemName,
			Rarity:   int32(r.Rarity),
			GachaTs:  ts,
			IsNew:    r.IsNew,
			IsFree:   r.IsFree,
			PoolID:   r.PoolID,
			PoolName: r.PoolName,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return fw.Bytes(), nil
}
