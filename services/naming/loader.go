package naming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Loader produces a complete rule set.
type Loader interface {
	Load(ctx context.Context) (*RuleSet, error)
}

// BaselineLoader returns the built-in tables.
type BaselineLoader struct{}

// Load implements Loader.
func (BaselineLoader) Load(context.Context) (*RuleSet, error) {
	return Baseline(), nil
}

// FileLoader layers a YAML override file and then a naming workbook over the
// baseline. Paths that are empty or absent on disk are skipped.
type FileLoader struct {
	YAMLPath string
	XLSXPath string
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context) (*RuleSet, error) {
	rs := Baseline()

	if l.YAMLPath != "" {
		f, err := os.Open(l.YAMLPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open rules yaml: %w", err)
		default:
			err = ApplyYAML(rs, f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", l.YAMLPath, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.XLSXPath != "" {
		if _, err := os.Stat(l.XLSXPath); err == nil {
			if err := ApplyWorkbook(rs, l.XLSXPath); err != nil {
				return nil, fmt.Errorf("%s: %w", l.XLSXPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat rules workbook: %w", err)
		}
	}

	return rs, nil
}

// ApplyYAML merges overrides of the form
//
//	metal:
//	  - name: 10k Yellow Gold
//	    code: 10ky
func ApplyYAML(rs *RuleSet, r io.Reader) error {
	var doc map[Bucket][]Rule
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode rules yaml: %w", err)
	}
	for bucket, rules := range doc {
		if rs.Table(bucket) == nil {
			return fmt.Errorf("unknown rule bucket %q", bucket)
		}
		for _, rule := range rules {
			rs.Set(bucket, rule.Name, strings.ToLower(rule.Code))
		}
	}
	return nil
}

// ApplyWorkbook merges every sheet whose name maps to a bucket and which has
// name and code columns. Other sheets are ignored.
func ApplyWorkbook(rs *RuleSet, path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		bucket, ok := bucketForSheet(sheet)
		if !ok {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		applyRows(rs, bucket, rows)
	}
	return nil
}

func applyRows(rs *RuleSet, bucket Bucket, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	nameCol, codeCol := headerColumn(rows[0], "name"), headerColumn(rows[0], "code")
	if nameCol < 0 || codeCol < 0 {
		return
	}
	for _, row := range rows[1:] {
		if nameCol >= len(row) || codeCol >= len(row) {
			continue
		}
		code := strings.ToLower(strings.TrimSpace(row[codeCol]))
		if code == "nan" {
			continue
		}
		rs.Set(bucket, row[nameCol], code)
	}
}

// headerColumn prefers an exact header match and falls back to the first
// header containing want.
func headerColumn(header []string, want string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i
		}
	}
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), want) {
			return i
		}
	}
	return -1
}
