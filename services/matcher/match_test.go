package matcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/pkg/s3"
)

func TestPositionalScore(t *testing.T) {
	tests := []struct {
		target, candidate string
		want              int
	}{
		{"er_sol_rou_14kw.3dm", "er_sol_rou_14kw.3dm", 4*20 + 5},
		{"er_sol_rou_14kw.3dm", "er_hal_rou_14kw.3dm", 3*20 + 5},
		{"er_sol_rou_14kw.3dm", "sol_er_rou_14kw_6_5.3dm", 10 + 10 + 20 + 20},
		{"er_sol_rou_14kw.3dm", "wb_hal_ovl_pt.3dm", 5},
		{"er_sol.3dm", "nck_hal_pea.3dm", 0},
	}
	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, PositionalScore(tt.target, tt.candidate))
		})
	}
}

func TestScorePositionalExactFirst(t *testing.T) {
	target := "er_sol_rou_14kw.3dm"
	corpus := []Entry{
		{Filename: "er_hal_rou_14kw.3dm", Path: "a"},
		{Filename: "nck_pea.3dm", Path: "b"},
		{Filename: target, Path: "c"},
		{Filename: "er_sol_rou_18ky.3dm", Path: "d"},
	}
	got := ScorePositional(target, corpus)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Path)
	assert.Equal(t, 85, got[0].Score)
	// equal scores keep corpus order
	assert.Equal(t, "a", got[1].Path)
	assert.Equal(t, "d", got[2].Path)
}

func TestScorePositionalTruncates(t *testing.T) {
	var corpus []Entry
	for i := 0; i < 25; i++ {
		corpus = append(corpus, Entry{Filename: fmt.Sprintf("er_sol_%02d.3dm", i), Path: fmt.Sprint(i)})
	}
	got := ScorePositional("er_sol_rou.3dm", corpus)
	assert.Len(t, got, PositionalLimit)
	assert.Equal(t, "0", got[0].Path)
}

func TestScoreSimilarityEmptyCorpus(t *testing.T) {
	got := ScoreSimilarity("er_sol_rou_14kw.3dm", nil)
	require.Len(t, got, 1)
	assert.Equal(t, Match{Filename: "er_sol_rou_14kw.3dm", Path: PlaceholderPath}, got[0])
}

func TestScoreSimilarityDedupesAndRanks(t *testing.T) {
	target := "er_sol_rou_14kw.3dm"
	got := ScoreSimilarity(target, []Entry{
		{Filename: "wb_bez_pt.3dm", Path: "/archive/wb_bez_pt.3dm"},
		{Filename: target, Path: "/archive/" + target},
		{Filename: target, Path: "/archive/" + target},
		{Filename: "er_sol_rou_14ky.3dm", Path: "/archive/er_sol_rou_14ky.3dm"},
		{Filename: "er_sol_ovl_14kw.3dm", Path: "/archive/er_sol_ovl_14kw.3dm"},
	})
	require.Len(t, got, SimilarityLimit)
	assert.Equal(t, "/archive/"+target, got[0].Path)
	assert.Equal(t, 100, got[0].Score)
	for _, m := range got {
		assert.NotEqual(t, "/archive/wb_bez_pt.3dm", m.Path)
	}
}

func TestWRatio(t *testing.T) {
	assert.Equal(t, 100, WRatio("er_sol_rou_14kw.3dm", "ER_SOL_ROU_14KW.3dm"))
	assert.Equal(t, 0, WRatio("", "er_sol"))
	assert.Equal(t, 0, WRatio("___", "er_sol"))

	close := WRatio("er_sol_rou_14kw.3dm", "er_sol_rou_14ky.3dm")
	far := WRatio("er_sol_rou_14kw.3dm", "nck_hal_pea_pt.3dm")
	assert.Greater(t, close, far)
	assert.GreaterOrEqual(t, close, 80)

	// a short name fully contained in a long one scores through the partial path
	assert.GreaterOrEqual(t, WRatio("er_sol", "customer_archive_er_sol_rou_14kw_final.3dm"), 50)
}

type stubSearcher struct {
	results map[string][]Entry
	fail    map[string]bool
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, q string) ([]Entry, error) {
	s.queries = append(s.queries, q)
	if s.fail[q] {
		return nil, errors.New("search timeout")
	}
	return s.results[q], nil
}

type stubLinks struct {
	fail map[string]bool
}

func (s stubLinks) TempLink(_ context.Context, path string) (string, error) {
	if s.fail[path] {
		return "", errors.New("expired token")
	}
	return "https://dl.example/" + strings.TrimPrefix(path, "/"), nil
}

func TestServiceSimilarityMode(t *testing.T) {
	target := "er_sol_rou_14kw.3dm"
	searcher := &stubSearcher{
		results: map[string][]Entry{
			target:   {{Filename: target, Path: "/a/" + target}},
			"er_sol": {{Filename: target, Path: "/a/" + target}, {Filename: "er_sol_pri_pt.3dm", Path: "/a/er_sol_pri_pt.3dm"}},
		},
	}
	links := stubLinks{fail: map[string]bool{"/a/er_sol_pri_pt.3dm": true}}
	svc := NewService(Config{Searcher: searcher, Links: links}, zerolog.Nop())

	got, mode := svc.Suggest(context.Background(), target)
	assert.Equal(t, ModeSimilarity, mode)
	assert.Equal(t, []string{target, "er_sol"}, searcher.queries)
	require.Len(t, got, 2)
	assert.Equal(t, "https://dl.example/a/"+target, got[0].TempLink)
	assert.Empty(t, got[1].TempLink)
}

func TestServiceSearchFailureFallsBackToPlaceholder(t *testing.T) {
	target := "er_sol_rou_14kw.3dm"
	searcher := &stubSearcher{fail: map[string]bool{target: true, "er_sol": true}}
	svc := NewService(Config{Searcher: searcher, Links: stubLinks{}}, zerolog.Nop())

	got, _ := svc.Suggest(context.Background(), target)
	require.Len(t, got, 1)
	assert.Equal(t, PlaceholderPath, got[0].Path)
	assert.Empty(t, got[0].TempLink)
}

func TestServiceWithoutCollaborators(t *testing.T) {
	svc := NewService(Config{}, zerolog.Nop())
	got, mode := svc.Suggest(context.Background(), "wb_pt.3dm")
	assert.Equal(t, ModePlaceholder, mode)
	assert.Equal(t, []Match{Placeholder("wb_pt.3dm")}, got)
}

func TestServicePositionalMode(t *testing.T) {
	corpus := staticCorpus{{Filename: "wb_pt.3dm", Path: "x/wb_pt.3dm"}}
	svc := NewService(Config{Corpus: corpus}, zerolog.Nop())
	got, mode := svc.Suggest(context.Background(), "wb_pt.3dm")
	assert.Equal(t, ModePositional, mode)
	require.Len(t, got, 1)
	assert.Equal(t, 45, got[0].Score)
}

func TestServicePositionalEmptyIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	svc := NewService(Config{Corpus: staticCorpus{}}, logger)

	got, mode := svc.Suggest(context.Background(), "wb_pt.3dm")
	assert.Equal(t, ModePositional, mode)
	assert.Empty(t, got)

	line := buf.String()
	assert.Contains(t, line, `"message":"no positional matches"`)
	assert.Contains(t, line, `"corpus":0`)
	assert.Contains(t, line, `"filename":"wb_pt.3dm"`)
}

type staticCorpus []Entry

func (c staticCorpus) Entries(context.Context) ([]Entry, error) { return c, nil }

func TestQueries(t *testing.T) {
	assert.Equal(t, []string{"er_sol_rou_14kw.3dm", "er_sol"}, Queries("er_sol_rou_14kw.3dm"))
	assert.Equal(t, []string{"er.3dm", "er"}, Queries("er.3dm"))
}

type countingLister struct {
	calls   int
	objects []s3.Object
}

func (l *countingLister) ListObjects(context.Context, string, string) ([]s3.Object, error) {
	l.calls++
	return l.objects, nil
}

func TestArchiveSearchCachesListing(t *testing.T) {
	lister := &countingLister{objects: []s3.Object{
		{Key: "designs/2024/ER_SOL_ROU_14KW.3dm", Size: 2048},
		{Key: "designs/2024/er_sol_rou_14kw.png", Size: 10},
		{Key: "designs/2023/wb_pt.3dm", Size: 512},
	}}
	a, err := NewArchive(lister, "designs", "designs/", time.Minute)
	require.NoError(t, err)

	got, err := a.Search(context.Background(), "er_sol_rou_14kw.3dm")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Entry{Filename: "ER_SOL_ROU_14KW.3dm", Path: "designs/2024/ER_SOL_ROU_14KW.3dm", Size: 2048}, got[0])

	_, err = a.Search(context.Background(), "wb")
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	a.Invalidate()
	_, err = a.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

type countingPresigner struct{ calls int }

func (p *countingPresigner) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p.calls++
	return fmt.Sprintf("https://%s/%s?ttl=%s", bucket, key, ttl), nil
}

func TestPresignedLinksReuse(t *testing.T) {
	p := &countingPresigner{}
	links, err := NewPresignedLinks(p, "designs", 0)
	require.NoError(t, err)

	first, err := links.TempLink(context.Background(), "/2024/er.3dm")
	require.NoError(t, err)
	second, err := links.TempLink(context.Background(), "2024/er.3dm")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls)
	assert.Contains(t, first, "ttl=4h0m0s")
}

func TestReadCSV(t *testing.T) {
	in := "Directory,Filename,Size\n" +
		`\\nas\cad\rings,er_sol_rou_14kw.3dm,2048` + "\n" +
		"/cad/bands,,\n" +
		"/cad/bands,wb_pt.3dm,x\n"
	got, err := ReadCSV(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/nas/cad/rings/er_sol_rou_14kw.3dm", got[0].Path)
	assert.Equal(t, int64(2048), got[0].Size)
	assert.Equal(t, "/cad/bands/wb_pt.3dm", got[1].Path)
	assert.Zero(t, got[1].Size)

	_, err = ReadCSV(context.Background(), strings.NewReader("Directory,Owner\n/x,bob\n"))
	assert.Error(t, err)
}
