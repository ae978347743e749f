package table

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// hiveNull marks a null partition value.
const hiveNull = "__HIVE_DEFAULT_PARTITION__"

// Format is the encoding of a data file.
type Format int

const (
	FormatNDJSON Format = iota + 1
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatNDJSON:
		return "ndjson"
	case FormatParquet:
		return "parquet"
	}
	return "unknown"
}

// DataFile is one data file of a table and its partition values, taken
// from the Delta log when there is one and from the directory path
// otherwise.
type DataFile struct {
	Key        string
	Path       string
	Size       int64
	Format     Format
	Gzip       bool
	Partitions map[string]string
}

// Handle is an open table: its location and a snapshot of its data files.
// Handles are immutable and shared by every caller of the same location.
type Handle struct {
	Location string
	Files    []DataFile
	Delta    bool // files come from a Delta transaction log
	OpenedAt time.Time
}

// PartitionColumns returns the sorted set of partition columns across files.
func (h *Handle) PartitionColumns() []string {
	set := map[string]struct{}{}
	for _, f := range h.Files {
		for col := range f.Partitions {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// openHandle snapshots the data files of the table at location. A table
// with a Delta log is read through the log; anything else is taken as a
// plain Hive-partitioned directory tree.
func openHandle(ctx context.Context, storage Storage, location string) (*Handle, error) {
	objects, err := storage.List(ctx, location)
	if err != nil {
		return nil, err
	}

	var logObjects, dataObjects []Object
	for _, obj := range objects {
		if strings.HasPrefix(obj.Path, deltaLogDir+"/") {
			logObjects = append(logObjects, obj)
			continue
		}
		dataObjects = append(dataObjects, obj)
	}

	h := &Handle{Location: location, OpenedAt: time.Now()}
	if commits := deltaCommits(logObjects); len(commits) > 0 {
		files, err := replayDeltaLog(ctx, storage, commits, dataObjects)
		if err != nil {
			return nil, fmt.Errorf("delta log of %s: %w", location, err)
		}
		h.Files = files
		h.Delta = true
	} else {
		unreadable := 0
		for _, obj := range dataObjects {
			format, gz, ok := dataFormat(path.Base(obj.Path))
			if !ok {
				unreadable++
				continue
			}
			h.Files = append(h.Files, DataFile{
				Key:        obj.Key,
				Path:       obj.Path,
				Size:       obj.Size,
				Format:     format,
				Gzip:       gz,
				Partitions: parsePartitions(obj.Path),
			})
		}
		if len(h.Files) == 0 && unreadable > 0 {
			return nil, fmt.Errorf("%s holds %d files in no readable format", location, unreadable)
		}
	}
	sort.Slice(h.Files, func(i, j int) bool { return h.Files[i].Path < h.Files[j].Path })
	return h, nil
}

// parsePartitions reads col=value directory segments from a relative file
// path. Values are Hive-escaped.
func parsePartitions(rel string) map[string]string {
	parts := map[string]string{}
	dir := path.Dir(rel)
	if dir == "." {
		return parts
	}
	for _, seg := range strings.Split(dir, "/") {
		col, val, ok := strings.Cut(seg, "=")
		if !ok || col == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(val); err == nil {
			val = unescaped
		}
		if val == hiveNull {
			continue
		}
		parts[col] = val
	}
	return parts
}
