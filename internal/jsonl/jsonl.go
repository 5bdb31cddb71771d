// Package jsonl writes extracted rows as JSON Lines files, optionally
// gzip-compressed, and computes the integrity checksum the upload API
// expects. The checksum always covers the uncompressed byte stream, so the
// server can verify content after decompressing.
package jsonl

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/clock"
)

// FileInfo describes one finished output file.
type FileInfo struct {
	Path       string `json:"path"`
	Records    int64  `json:"records"`
	Bytes      int64  `json:"bytes"`
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
}

// Name returns the file's base name, the identifier the upload API sees.
func (fi FileInfo) Name() string { return filepath.Base(fi.Path) }

// Writer streams rows into a single JSONL file. Each record is one compact
// JSON document terminated by a newline. Not safe for concurrent use.
type Writer struct {
	path     string
	file     *os.File
	gzw      *gzip.Writer
	out      io.Writer
	hasher   hash.Hash
	enc      *json.Encoder
	records  int64
	rawBytes int64
	compress bool
	closed   bool
}

// countingWriter tracks uncompressed bytes before the optional gzip stage.
type countingWriter struct {
	w *Writer
}

func (cw countingWriter) Write(p []byte) (int, error) {
	cw.w.hasher.Write(p)
	cw.w.rawBytes += int64(len(p))

	if cw.w.gzw != nil {
		return cw.w.gzw.Write(p)
	}

	return cw.w.file.Write(p)
}

// BaseName renders the canonical output file name for a mapping and schema
// slug at the given unix timestamp, without extension.
func BaseName(mappingName, slug string, unix int64) string {
	return fmt.Sprintf("%s_%s_%d", mappingName, slug, unix)
}

// NewWriter creates a JSONL file at dir/<name>.jsonl (or .jsonl.gz when
// compressing) with owner-only permissions.
func NewWriter(dir, name string, compress bool) (*Writer, error) {
	ext := ".jsonl"
	if compress {
		ext = ".jsonl.gz"
	}

	path := filepath.Join(dir, name+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, bridgepath.FilePerms)
	if err != nil {
		return nil, fmt.Errorf("jsonl: creating %s: %w", path, err)
	}

	w := &Writer{
		path:     path,
		file:     f,
		hasher:   sha256.New(),
		compress: compress,
	}

	if compress {
		w.gzw = gzip.NewWriter(f)
	}

	w.out = countingWriter{w: w}
	w.enc = json.NewEncoder(w.out)

	return w, nil
}

// Write appends one record. json.Encoder emits compact JSON followed by a
// newline, which is exactly the JSONL framing.
func (w *Writer) Write(record map[string]any) error {
	if w.closed {
		return fmt.Errorf("jsonl: writer for %s is closed", w.path)
	}

	if err := w.enc.Encode(record); err != nil {
		return fmt.Errorf("jsonl: encoding record: %w", err)
	}

	w.records++

	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() int64 { return w.records }

// RawBytes returns the uncompressed bytes written so far.
func (w *Writer) RawBytes() int64 { return w.rawBytes }

// Close flushes and closes the file and returns its description.
func (w *Writer) Close() (FileInfo, error) {
	if w.closed {
		return FileInfo{}, fmt.Errorf("jsonl: writer for %s already closed", w.path)
	}

	w.closed = true

	if w.gzw != nil {
		if err := w.gzw.Close(); err != nil {
			w.file.Close()

			return FileInfo{}, fmt.Errorf("jsonl: finishing gzip stream for %s: %w", w.path, err)
		}
	}

	if err := w.file.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("jsonl: closing %s: %w", w.path, err)
	}

	return FileInfo{
		Path:       w.path,
		Records:    w.records,
		Bytes:      w.rawBytes,
		Checksum:   hex.EncodeToString(w.hasher.Sum(nil)),
		Compressed: w.compress,
	}, nil
}

// Abort closes and removes a partially written file.
func (w *Writer) Abort() {
	if w.closed {
		return
	}

	w.closed = true

	if w.gzw != nil {
		w.gzw.Close()
	}

	w.file.Close()
	os.Remove(w.path)
}

// BatchWriter splits a row stream across multiple files, rotating when a
// file reaches the byte or record limit. Every file carries a _partNNN
// sequence suffix on the mapping name, starting at _part001.
type BatchWriter struct {
	dir        string
	mapping    string
	slug       string
	unix       int64
	compress   bool
	maxBytes   int64
	maxRecords int64

	current *Writer
	part    int
	files   []FileInfo
}

// NewBatchWriter creates a rotating writer for the mapping/slug pair.
// maxBytes or maxRecords of zero disables that limit.
func NewBatchWriter(dir, mappingName, slug string, compress bool, maxBytes, maxRecords int64) *BatchWriter {
	return &BatchWriter{
		dir:        dir,
		mapping:    mappingName,
		slug:       slug,
		unix:       clock.UnixSeconds(),
		compress:   compress,
		maxBytes:   maxBytes,
		maxRecords: maxRecords,
	}
}

func (bw *BatchWriter) fileName() string {
	return BaseName(fmt.Sprintf("%s_part%03d", bw.mapping, bw.part), bw.slug, bw.unix)
}

// Write appends one record, opening or rotating files as needed.
func (bw *BatchWriter) Write(record map[string]any) error {
	if bw.current == nil {
		bw.part++

		w, err := NewWriter(bw.dir, bw.fileName(), bw.compress)
		if err != nil {
			return err
		}

		bw.current = w
	}

	if err := bw.current.Write(record); err != nil {
		return err
	}

	overBytes := bw.maxBytes > 0 && bw.current.RawBytes() >= bw.maxBytes
	overRecords := bw.maxRecords > 0 && bw.current.Records() >= bw.maxRecords

	if overBytes || overRecords {
		info, err := bw.current.Close()
		if err != nil {
			return err
		}

		bw.files = append(bw.files, info)
		bw.current = nil
	}

	return nil
}

// Close finishes the open file, if any, and returns all files written.
// Empty runs return no files; a zero-record trailing file is discarded.
func (bw *BatchWriter) Close() ([]FileInfo, error) {
	if bw.current != nil {
		if bw.current.Records() == 0 {
			bw.current.Abort()
		} else {
			info, err := bw.current.Close()
			if err != nil {
				return bw.files, err
			}

			bw.files = append(bw.files, info)
		}

		bw.current = nil
	}

	return bw.files, nil
}

// Abort discards the open file and removes every file written so far.
func (bw *BatchWriter) Abort() {
	if bw.current != nil {
		bw.current.Abort()
		bw.current = nil
	}

	for _, fi := range bw.files {
		os.Remove(fi.Path)
	}

	bw.files = nil
}

// ValidateFile checks that every line of a JSONL file (gzip-aware by
// extension) parses as a JSON object, and returns the record count and the
// uncompressed size.
func ValidateFile(path string) (records, bytes int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("jsonl: opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f

	if strings.HasSuffix(path, ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return 0, 0, fmt.Errorf("jsonl: %s is not valid gzip: %w", path, err)
		}
		defer gzr.Close()

		r = gzr
	}

	dec := json.NewDecoder(r)

	for {
		var doc map[string]any

		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}

		if err != nil {
			return records, bytes, fmt.Errorf("jsonl: %s record %d is malformed: %w", path, records+1, err)
		}

		records++
	}

	bytes = dec.InputOffset()

	return records, bytes, nil
}
