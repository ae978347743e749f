package table

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Record is one row of a resource table.
type Record = map[string]any

// NDJSONWriter writes records in NDJSON (Newline Delimited JSON) format,
// the layout of table data files and of the CLI's streaming output.
type NDJSONWriter struct {
	w  *bufio.Writer
	gz *gzip.Writer
}

// NewNDJSONWriter creates a new NDJSONWriter that writes to w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: bufio.NewWriter(w)}
}

// NewGzipNDJSONWriter writes gzip-compressed NDJSON to w.
func NewGzipNDJSONWriter(w io.Writer) *NDJSONWriter {
	gz := gzip.NewWriter(w)
	return &NDJSONWriter{w: bufio.NewWriter(gz), gz: gz}
}

// WriteRecord serialises rec as a single JSON line.
func (n *NDJSONWriter) WriteRecord(rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := n.w.Write(data); err != nil {
		return err
	}
	return n.w.WriteByte('\n')
}

// Close flushes buffered data and finishes the gzip stream, if any. It does
// not close the underlying writer.
func (n *NDJSONWriter) Close() error {
	if err := n.w.Flush(); err != nil {
		return err
	}
	if n.gz != nil {
		return n.gz.Close()
	}
	return nil
}

// dataFormat reports the format of a data file by name and whether it is
// gzip-compressed. ok is false for files that hold no readable rows.
func dataFormat(name string) (format Format, gz, ok bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".parquet") {
		return FormatParquet, false, true
	}
	if strings.HasSuffix(lower, ".gz") {
		gz = true
		lower = strings.TrimSuffix(lower, ".gz")
	}
	for _, ext := range []string{".ndjson", ".jsonl", ".json"} {
		if strings.HasSuffix(lower, ext) {
			return FormatNDJSON, gz, true
		}
	}
	return 0, false, false
}

// DecodeRecords streams the records of one data file to fn. A file whose
// first non-space byte is '[' is read as a JSON array; anything else as
// NDJSON. Blank lines are skipped. Numbers decode as json.Number so ids
// keep their exact text.
func DecodeRecords(r io.Reader, gz bool, fn func(Record) error) error {
	if gz {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if first == '[' {
		var rows []Record
		dec := json.NewDecoder(br)
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return fmt.Errorf("decode json array: %w", err)
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		row, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("decode line %d: %w", line, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func decodeRecord(data []byte) (Record, error) {
	var row Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
