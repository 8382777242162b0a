// Package streamformat implements the Format Stream Reader capability: a
// lazy, forward-only, restartable sequence of decoded records from one
// object, tracking the line offset for resumption across process
// restarts. Concrete Avro/Parquet decoders are out of scope; bytes, text,
// and jsonl cover the minimal decoder contract the core depends on.
package streamformat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/3leaps/s3conduit/pkg/discovery"
)

// Format selects a decoder.
type Format string

const (
	FormatBytes Format = "bytes"
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// Record is one decoded record produced by a Reader.
type Record struct {
	Value []byte
}

// Reader is the Format Stream Reader capability. Implementations MUST be
// restartable from a given line offset at construction (the Reader Manager
// passes the committed line plus one on resume).
type Reader interface {
	HasNext() bool
	Next() (Record, error)
	CurrentLine() int
	Location() discovery.PathLocation
	Close() error
}

// ErrMalformedRecord indicates a decoder failure on a specific record; the
// caller decides whether to skip it or surface it per policy.
var ErrMalformedRecord = errors.New("malformed record")

const defaultMaxLineBytes = 1 << 20

// Open constructs a Reader over body for the given location and format,
// skipping the first startLine lines/records, so the first record returned
// is 0-based line startLine (0 starts at the beginning). Open
// takes ownership of body and closes it when the returned Reader is closed.
func Open(format Format, location discovery.PathLocation, body io.ReadCloser, startLine int) (Reader, error) {
	switch format {
	case FormatBytes:
		return newBytesReader(location, body, startLine), nil
	case FormatText:
		return newLineReader(location, body, startLine, false), nil
	case FormatJSONL:
		return newLineReader(location, body, startLine, true), nil
	default:
		return nil, errors.New("streamformat: unknown format " + string(format))
	}
}

// bytesReader treats the whole object as a single record.
type bytesReader struct {
	location  discovery.PathLocation
	body      io.ReadCloser
	delivered bool
	exhausted bool
	line      int
}

func newBytesReader(location discovery.PathLocation, body io.ReadCloser, startLine int) *bytesReader {
	r := &bytesReader{location: location, body: body, line: -1}
	if startLine > 0 {
		r.exhausted = true
		r.line = 0
	}
	return r
}

func (r *bytesReader) HasNext() bool { return !r.exhausted }

func (r *bytesReader) Next() (Record, error) {
	data, err := io.ReadAll(r.body)
	r.exhausted = true
	r.line = 0
	if err != nil {
		return Record{}, err
	}
	return Record{Value: data}, nil
}

func (r *bytesReader) CurrentLine() int                { return r.line }
func (r *bytesReader) Location() discovery.PathLocation { return r.location }
func (r *bytesReader) Close() error                     { return r.body.Close() }

// lineReader decodes line-delimited text or jsonl records.
type lineReader struct {
	location    discovery.PathLocation
	body        io.ReadCloser
	scanner     *bufio.Scanner
	line        int
	validateSON bool
	pending     []byte
	hasPending  bool
	exhausted   bool
}

func newLineReader(location discovery.PathLocation, body io.ReadCloser, startLine int, validateJSON bool) *lineReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultMaxLineBytes)

	r := &lineReader{
		location:    location,
		body:        body,
		scanner:     scanner,
		line:        -1,
		validateSON: validateJSON,
	}

	for i := 0; i < startLine; i++ {
		if !scanner.Scan() {
			r.exhausted = true
			break
		}
		r.line++
	}
	return r
}

func (r *lineReader) HasNext() bool {
	if r.exhausted {
		return false
	}
	if r.hasPending {
		return true
	}
	if !r.scanner.Scan() {
		r.exhausted = true
		return false
	}
	line := r.scanner.Bytes()
	r.pending = append([]byte(nil), line...)
	r.hasPending = true
	return true
}

func (r *lineReader) Next() (Record, error) {
	if !r.hasPending {
		if !r.HasNext() {
			return Record{}, io.EOF
		}
	}
	line := r.pending
	r.pending = nil
	r.hasPending = false
	r.line++

	if len(bytes.TrimSpace(line)) == 0 {
		return Record{Value: line}, nil
	}

	if r.validateSON {
		var js json.RawMessage
		if err := json.Unmarshal(line, &js); err != nil {
			return Record{}, ErrMalformedRecord
		}
	}
	return Record{Value: line}, nil
}

func (r *lineReader) CurrentLine() int                { return r.line }
func (r *lineReader) Location() discovery.PathLocation { return r.location }
func (r *lineReader) Close() error                     { return r.body.Close() }
