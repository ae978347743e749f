package table

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
)

// deltaLogDir is the transaction log directory of a Delta table.
const deltaLogDir = "_delta_log"

// deltaAction is the subset of a Delta log action that decides which data
// files are live.
type deltaAction struct {
	Add *struct {
		Path            string             `json:"path"`
		PartitionValues map[string]*string `json:"partitionValues"`
		Size            int64              `json:"size"`
	} `json:"add"`
	Remove *struct {
		Path string `json:"path"`
	} `json:"remove"`
}

type deltaCommit struct {
	version int64
	obj     Object
}

// deltaCommits returns the JSON commit files of a Delta log in version
// order. Checkpoints, CRC files and anything not named <version>.json are
// left out.
func deltaCommits(logObjects []Object) []deltaCommit {
	var commits []deltaCommit
	for _, obj := range logObjects {
		if path.Dir(obj.Path) != deltaLogDir {
			continue
		}
		stem, ok := strings.CutSuffix(path.Base(obj.Path), ".json")
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			continue
		}
		commits = append(commits, deltaCommit{version: v, obj: obj})
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i].version < commits[j].version })
	return commits
}

// replayDeltaLog applies every commit in order and returns the files still
// added at the latest version. Logs whose early commits were cleaned up
// after a checkpoint are rejected.
func replayDeltaLog(ctx context.Context, storage Storage, commits []deltaCommit, dataObjects []Object) ([]DataFile, error) {
	if first := commits[0].version; first != 0 {
		return nil, fmt.Errorf("log starts at version %d and checkpoints are not read", first)
	}

	live := map[string]map[string]string{}
	for i, c := range commits {
		if c.version != int64(i) {
			return nil, fmt.Errorf("commit %d is missing", i)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readCommit(ctx, storage, c, live); err != nil {
			return nil, err
		}
	}

	byPath := make(map[string]Object, len(dataObjects))
	for _, obj := range dataObjects {
		byPath[obj.Path] = obj
	}

	files := make([]DataFile, 0, len(live))
	for p, parts := range live {
		obj, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("data file %s is in the log but not in storage", p)
		}
		format, gz, ok := dataFormat(path.Base(p))
		if !ok {
			return nil, fmt.Errorf("data file %s is in no readable format", p)
		}
		files = append(files, DataFile{
			Key:        obj.Key,
			Path:       obj.Path,
			Size:       obj.Size,
			Format:     format,
			Gzip:       gz,
			Partitions: parts,
		})
	}
	return files, nil
}

func readCommit(ctx context.Context, storage Storage, c deltaCommit, live map[string]map[string]string) error {
	rc, err := storage.Open(ctx, c.obj.Key)
	if err != nil {
		return fmt.Errorf("open commit %d: %w", c.version, err)
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var action deltaAction
		if err := json.Unmarshal(data, &action); err != nil {
			return fmt.Errorf("commit %d line %d: %w", c.version, line, err)
		}
		switch {
		case action.Add != nil:
			p, err := deltaPath(action.Add.Path)
			if err != nil {
				return fmt.Errorf("commit %d line %d: %w", c.version, line, err)
			}
			parts := make(map[string]string, len(action.Add.PartitionValues))
			for col, v := range action.Add.PartitionValues {
				if v != nil {
					parts[col] = *v
				}
			}
			live[p] = parts
		case action.Remove != nil:
			p, err := deltaPath(action.Remove.Path)
			if err != nil {
				return fmt.Errorf("commit %d line %d: %w", c.version, line, err)
			}
			delete(live, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commit %d: %w", c.version, err)
	}
	return nil
}

// deltaPath turns the URI-encoded path of a log action into a path relative
// to the table root.
func deltaPath(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		return "", fmt.Errorf("absolute data file path %q is not supported", raw)
	}
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("data file path %q: %w", raw, err)
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/"), nil
}
