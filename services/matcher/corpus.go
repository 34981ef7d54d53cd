package matcher

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
)

// Corpus lists the whole archive for positional scoring.
type Corpus interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// Searcher returns archive entries whose name matches query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Entry, error)
}

// CSVCorpus reads a Directory,Filename[,Size] export of the file server.
type CSVCorpus struct {
	Path string
}

// Entries implements Corpus. The file is read on every call so exports can be
// replaced without a restart.
func (c CSVCorpus) Entries(ctx context.Context) ([]Entry, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f)
}

// ReadCSV parses a corpus export. Header names are matched case-insensitively.
func ReadCSV(ctx context.Context, r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}

	dirCol, nameCol, sizeCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "directory", "dir", "folder":
			dirCol = i
		case "filename", "file", "name":
			nameCol = i
		case "size":
			sizeCol = i
		}
	}
	if nameCol < 0 {
		return nil, errors.New("corpus csv has no filename column")
	}

	var out []Entry
	for line := 2; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		if nameCol >= len(rec) || strings.TrimSpace(rec[nameCol]) == "" {
			continue
		}
		e := Entry{Filename: strings.TrimSpace(rec[nameCol])}
		e.Path = e.Filename
		if dirCol >= 0 && dirCol < len(rec) {
			e.Path = path.Join(strings.ReplaceAll(strings.TrimSpace(rec[dirCol]), `\`, "/"), e.Filename)
		}
		if sizeCol >= 0 && sizeCol < len(rec) {
			e.Size, _ = strconv.ParseInt(strings.TrimSpace(rec[sizeCol]), 10, 64)
		}
		out = append(out, e)
	}
	return out, nil
}
