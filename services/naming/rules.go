package naming

import (
	"sort"
	"strings"
)

// Bucket names one attribute table.
type Bucket string

const (
	BucketCategory Bucket = "category"
	BucketDesign   Bucket = "design"
	BucketStone    Bucket = "stone"
	BucketMetal    Bucket = "metal"
)

// Buckets lists the tables in filename order.
var Buckets = []Bucket{BucketCategory, BucketDesign, BucketStone, BucketMetal}

// Rule maps a display name to its short code.
type Rule struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// Table is an ordered name→code mapping with a case-folded index. When two
// names fold to the same key, the one inserted first owns it.
type Table struct {
	rules     []Rule
	exact     map[string]int
	folded    map[string]int
	foldOwner map[string]string
}

func newTable() *Table {
	return &Table{
		exact:     make(map[string]int),
		folded:    make(map[string]int),
		foldOwner: make(map[string]string),
	}
}

// Set adds or overrides a rule. Overrides keep the original position.
func (t *Table) Set(name, code string) {
	if idx, ok := t.exact[name]; ok {
		t.rules[idx].Code = code
		return
	}
	t.rules = append(t.rules, Rule{Name: name, Code: code})
	idx := len(t.rules) - 1
	t.exact[name] = idx

	key := strings.ToLower(name)
	if _, ok := t.foldOwner[key]; !ok {
		t.foldOwner[key] = name
		t.folded[key] = idx
	}
}

// Lookup resolves value by exact then case-insensitive match.
func (t *Table) Lookup(value string) (string, bool) {
	if t == nil {
		return "", false
	}
	if idx, ok := t.exact[value]; ok {
		return t.rules[idx].Code, true
	}
	if idx, ok := t.folded[strings.ToLower(value)]; ok {
		return t.rules[idx].Code, true
	}
	return "", false
}

// Len returns the number of rules.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Rules returns the rules in insertion order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// RuleSet groups the per-bucket tables. It is read-only once published.
type RuleSet struct {
	tables map[Bucket]*Table
}

// NewRuleSet returns an empty RuleSet.
func NewRuleSet() *RuleSet {
	rs := &RuleSet{tables: make(map[Bucket]*Table, len(Buckets))}
	for _, b := range Buckets {
		rs.tables[b] = newTable()
	}
	return rs
}

// Set adds or overrides one rule. Unknown buckets are ignored.
func (rs *RuleSet) Set(bucket Bucket, name, code string) {
	t, ok := rs.tables[bucket]
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" || code == "" {
		return
	}
	t.Set(name, code)
}

// Table returns the table for bucket.
func (rs *RuleSet) Table(bucket Bucket) *Table {
	if rs == nil {
		return nil
	}
	return rs.tables[bucket]
}

// Counts returns the number of rules per bucket.
func (rs *RuleSet) Counts() map[Bucket]int {
	out := make(map[Bucket]int, len(Buckets))
	for _, b := range Buckets {
		out[b] = rs.Table(b).Len()
	}
	return out
}

// Baseline returns the built-in rule tables.
func Baseline() *RuleSet {
	rs := NewRuleSet()
	for _, b := range Buckets {
		for _, r := range baseline[b] {
			rs.Set(b, r.Name, r.Code)
		}
	}
	return rs
}

var baseline = map[Bucket][]Rule{
	BucketCategory: {
		{"ER", "er"}, {"WB", "wb"}, {"Earring", "ear"}, {"Necklace", "nck"}, {"Bracelet", "brc"},
	},
	BucketDesign: {
		{"Solitaire", "sol"}, {"Halo", "hal"}, {"Bezel", "bez"}, {"Hidden Halo", "hha"},
		{"Three Stone", "tst"}, {"Three‑Stone", "tst"}, {"Vintage", "vin"}, {"Tension", "ten"},
		{"Signet", "sig"}, {"Unique", "uni"},
	},
	BucketStone: {
		{"Round", "rou"}, {"Princess", "pri"}, {"Oval", "ovl"}, {"Emerald", "eme"}, {"Cushion", "cus"},
		{"Pear", "pea"}, {"Asscher", "asc"}, {"Marquise", "mar"}, {"Radiant", "rad"}, {"Heart", "hrt"},
		{"Trillion", "tri"}, {"Baguette", "bag"}, {"Kite", "kit"}, {"Hexagon", "hex"},
	},
	BucketMetal: {
		{"14k White Gold", "14kw"}, {"14k Yellow Gold", "14ky"}, {"14k Rose Gold", "14kr"},
		{"18k White Gold", "18kw"}, {"18k Yellow Gold", "18ky"}, {"Platinum", "pt"},
		{"14k White", "14kw"}, {"14k Yellow", "14ky"}, {"14k Rose", "14kr"},
		{"18k White", "18kw"}, {"18k Yellow", "18ky"},
	},
}

// bucketForSheet maps a workbook sheet name onto a bucket.
func bucketForSheet(sheet string) (Bucket, bool) {
	s := strings.ToLower(sheet)
	switch {
	case containsAny(s, "category", "ring type", "type"):
		return BucketCategory, true
	case containsAny(s, "design", "shank", "style"):
		return BucketDesign, true
	case containsAny(s, "stone", "shape"):
		return BucketStone, true
	case containsAny(s, "metal", "material"):
		return BucketMetal, true
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sortedBuckets(m map[Bucket]int) []Bucket {
	out := make([]Bucket, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
