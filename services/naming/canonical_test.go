package naming

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"slsdispatch/services/fleet"
)

func size(v float64) *float64 { return &v }

func TestCanonicalize(t *testing.T) {
	c := NewWithRules(Baseline())

	tests := []struct {
		name  string
		attrs Attributes
		want  string
	}{
		{
			name:  "full order",
			attrs: Attributes{Category: "ER", Design: "Solitaire", Stone: "Round", Metal: "14k White Gold", Size: size(6.5)},
			want:  "er_sol_rou_14kw_6_5.3dm",
		},
		{
			name:  "case insensitive",
			attrs: Attributes{Category: "er", Design: "SOLITAIRE", Stone: "round", Metal: "14K WHITE GOLD"},
			want:  "er_sol_rou_14kw.3dm",
		},
		{
			name:  "missing optional attributes are skipped",
			attrs: Attributes{Category: "WB", Metal: "Platinum"},
			want:  "wb_pt.3dm",
		},
		{
			name:  "metal heuristic",
			attrs: Attributes{Category: "ER", Metal: "10k Yellow Gold"},
			want:  "er_10kyellowg.3dm",
		},
		{
			name:  "generic fallback",
			attrs: Attributes{Category: "Pendant", Design: "Cathedral", Stone: "Ruby", Metal: "Silver"},
			want:  "pen_cat_rub_silver.3dm",
		},
		{
			name:  "whole size",
			attrs: Attributes{Category: "ER", Metal: "Platinum", Size: size(7)},
			want:  "er_pt_7_0.3dm",
		},
		{
			name:  "zero size skipped",
			attrs: Attributes{Category: "ER", Metal: "Platinum", Size: size(0)},
			want:  "er_pt.3dm",
		},
		{
			name:  "unicode hyphen design",
			attrs: Attributes{Category: "ER", Design: "Three‑Stone", Metal: "Platinum"},
			want:  "er_tst_pt.3dm",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Canonicalize(tt.attrs))
		})
	}
}

func TestCanonicalizeDeterministicUnderConcurrency(t *testing.T) {
	c := NewWithRules(Baseline())
	attrs := Attributes{Category: "ER", Design: "Halo", Stone: "Oval", Metal: "18k Yellow Gold", Size: size(5.25)}
	want := c.Canonicalize(attrs)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := c.Canonicalize(attrs); got != want {
					t.Errorf("got %q want %q", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, "er_hal_ovl_18ky_5_25.3dm", want)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Attributes{Category: "ER", Metal: "Platinum"}.Validate())

	err := Attributes{Metal: "Platinum"}.Validate()
	assert.True(t, errors.Is(err, fleet.ErrValidation))
	assert.Contains(t, err.Error(), "category")

	err = Attributes{Category: "ER"}.Validate()
	assert.Contains(t, err.Error(), "metal")

	err = Attributes{Category: "ER", Metal: "Platinum", Size: size(-1)}.Validate()
	assert.True(t, errors.Is(err, fleet.ErrValidation))
}

func TestTableFirstFoldedWins(t *testing.T) {
	rs := NewRuleSet()
	rs.Set(BucketStone, "Round", "rou")
	rs.Set(BucketStone, "ROUND", "rnd")

	assert.Equal(t, "rnd", Code(rs, BucketStone, "ROUND"))
	assert.Equal(t, "rou", Code(rs, BucketStone, "round"))
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "er_sol", StripExtension("er_sol.3dm"))
	assert.Equal(t, "er_sol", StripExtension("er_sol.3DM"))
	assert.Equal(t, "er_sol.stl", StripExtension("er_sol.stl"))
}

func TestFileLoaderYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"metal:",
		"  - name: 10k Yellow Gold",
		"    code: 10KY",
		"stone:",
		"  - name: Round",
		"    code: rd",
	}, "\n")), 0o644))

	c, err := New(context.Background(), FileLoader{YAMLPath: path, XLSXPath: filepath.Join(dir, "missing.xlsx")}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "er_rd_10ky.3dm", c.Canonicalize(Attributes{Category: "ER", Stone: "Round", Metal: "10k Yellow Gold"}))
}

func TestFileLoaderRejectsUnknownBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("finish:\n  - name: Matte\n    code: mt\n"), 0o644))

	_, err := FileLoader{YAMLPath: path}.Load(context.Background())
	require.Error(t, err)
}

func TestFileLoaderWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naming.xlsx")

	f := excelize.NewFile()
	_, err := f.NewSheet("Metal Codes")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Metal Codes", "A1", &[]any{"Metal Name", "Code"}))
	require.NoError(t, f.SetSheetRow("Metal Codes", "A2", &[]any{"Palladium", "PD"}))
	require.NoError(t, f.SetSheetRow("Metal Codes", "A3", &[]any{"Silver", "nan"}))
	_, err = f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Notes", "A1", &[]any{"Name", "Code"}))
	require.NoError(t, f.SetSheetRow("Notes", "A2", &[]any{"Round", "zzz"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rs, err := FileLoader{XLSXPath: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pd", Code(rs, BucketMetal, "Palladium"))
	assert.Equal(t, "silver", Code(rs, BucketMetal, "Silver"))
	assert.Equal(t, "rou", Code(rs, BucketStone, "Round"))
}

type flakyLoader struct {
	calls int
}

func (l *flakyLoader) Load(context.Context) (*RuleSet, error) {
	l.calls++
	if l.calls > 1 {
		return nil, errors.New("workbook locked")
	}
	return Baseline(), nil
}

func TestReloadFailureKeepsRules(t *testing.T) {
	loader := &flakyLoader{}
	c, err := New(context.Background(), loader, zerolog.Nop())
	require.NoError(t, err)
	before := c.Rules()

	_, err = c.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, c.Rules())
	assert.Equal(t, "er_pt.3dm", c.Canonicalize(Attributes{Category: "ER", Metal: "Platinum"}))
}
