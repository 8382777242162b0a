// Package resultreader implements the Result Reader: it bounds a single
// poll's records from one Format Stream Reader up to a limit.
package resultreader

import (
	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/streamformat"
)

// SourceData is one decoded record tagged with its origin and routing.
type SourceData struct {
	Record    streamformat.Record
	Line      int
	Location  discovery.PathLocation
	Topic     string
	Partition int32
}

// Batch is an ordered sequence of SourceData pulled from one reader.
type Batch struct {
	Records  []SourceData
	Location discovery.PathLocation
	Topic    string
}

// PartitionFunc computes the target output partition for a record's
// location, e.g. for deterministic downstream sharding.
type PartitionFunc func(discovery.PathLocation) int32

// ResultReader wraps a FormatStreamReader plus target-topic metadata and a
// partition function.
type ResultReader struct {
	reader      streamformat.Reader
	topic       string
	partitionFn PartitionFunc
}

// New wraps reader with routing metadata for Retrieve.
func New(reader streamformat.Reader, topic string, partitionFn PartitionFunc) *ResultReader {
	if partitionFn == nil {
		partitionFn = func(discovery.PathLocation) int32 { return 0 }
	}
	return &ResultReader{reader: reader, topic: topic, partitionFn: partitionFn}
}

// Retrieve pulls up to limit records by repeated Next() calls, returning
// nil if the reader is exhausted before any record. I/O errors from the
// reader propagate immediately; there are no retries.
func (r *ResultReader) Retrieve(limit int) (*Batch, error) {
	if limit <= 0 {
		limit = 1
	}

	var items []SourceData
	for len(items) < limit && r.reader.HasNext() {
		rec, err := r.reader.Next()
		if err != nil {
			return nil, err
		}
		loc := r.reader.Location()
		items = append(items, SourceData{
			Record:    rec,
			Line:      r.reader.CurrentLine(),
			Location:  loc,
			Topic:     r.topic,
			Partition: r.partitionFn(loc),
		})
	}

	if len(items) == 0 {
		return nil, nil
	}

	return &Batch{Records: items, Location: r.reader.Location(), Topic: r.topic}, nil
}
