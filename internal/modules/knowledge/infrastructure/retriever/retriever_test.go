package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/embedding"
	"QuizGazer/pkg/xerr"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	results []kb.SearchResult
	err     error
}

func (s *stubStore) Initialize(ctx context.Context) error                     { return nil }
func (s *stubStore) CreateCollection(ctx context.Context, name string) error  { return nil }
func (s *stubStore) DeleteCollection(ctx context.Context, name string) error  { return nil }
func (s *stubStore) HasCollection(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (s *stubStore) AddChunks(ctx context.Context, collection string, chunks []kb.DocumentChunk, vectors [][]float32) error {
	return nil
}
func (s *stubStore) DeleteChunks(ctx context.Context, collection string, documentID string) error {
	return nil
}
func (s *stubStore) Search(ctx context.Context, collections []string, queryVec []float32, topK int) ([]kb.SearchResult, error) {
	return s.results, s.err
}
func (s *stubStore) CountChunks(ctx context.Context, collection string) (int64, error) {
	return int64(len(s.results)), nil
}
func (s *stubStore) TestConnection(ctx context.Context) kb.ConnectionStatus {
	return kb.ConnectionStatus{Connected: true}
}
func (s *stubStore) Close(ctx context.Context) error { return nil }

type stubReranker struct {
	scores []repository.RerankScore
	err    error
	calls  int
}

func (r *stubReranker) Rerank(ctx context.Context, query string, documents []string) ([]repository.RerankScore, error) {
	r.calls++
	return r.scores, r.err
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	return nil, errors.New("boom")
}

func newTestRetriever(store repository.VectorStore, reranker repository.Reranker) *Retriever {
	conf := config.Default()
	conf.EmbeddingConfig.Dimensions = 8
	return NewRetriever(embedding.NewMockEmbedder(8), store, reranker, conf)
}

func testCollections() []kb.Collection {
	return []kb.Collection{{Id: "col-1", Name: "Databases"}}
}

func makeResult(chunkID, content string, distance float64) kb.SearchResult {
	return kb.SearchResult{
		ChunkID:    chunkID,
		DocumentID: "doc-1",
		Collection: "col-1",
		Content:    content,
		Distance:   distance,
		Metadata:   kb.ChunkMetadata{SourceFile: "guide.pdf", CollectionID: "col-1"},
	}
}

func TestRetriever_RerankScoreIsAuthoritative(t *testing.T) {
	// 向量距离上 c0 最近，但重排把 c1 排在前面
	store := &stubStore{results: []kb.SearchResult{
		makeResult("c0", "alpha", 0.1),
		makeResult("c1", "beta", 0.5),
	}}
	reranker := &stubReranker{scores: []repository.RerankScore{
		{Index: 0, Score: 0.4},
		{Index: 1, Score: 0.95},
	}}
	r := newTestRetriever(store, reranker)

	outcome, err := r.RetrieveRelevantKnowledge(context.Background(), "query", testCollections())
	require.NoError(t, err)
	assert.True(t, outcome.Reranked)
	require.Len(t, outcome.Fragments, 2)
	assert.Equal(t, "beta", outcome.Fragments[0].Content)
	assert.Equal(t, 0.95, outcome.Fragments[0].RelevanceScore)
	assert.Equal(t, "Databases", outcome.Fragments[0].CollectionName)
	assert.Equal(t, 1, reranker.calls)
}

func TestRetriever_FallbackWhenRerankFails(t *testing.T) {
	store := &stubStore{results: []kb.SearchResult{
		makeResult("c0", "far", 0.6),
		makeResult("c1", "near", 0.2),
	}}
	reranker := &stubReranker{err: xerr.New(xerr.RerankAPI, "service down")}
	r := newTestRetriever(store, reranker)

	outcome, err := r.RetrieveRelevantKnowledge(context.Background(), "query", testCollections())
	require.NoError(t, err)
	assert.False(t, outcome.Reranked)
	require.Len(t, outcome.Fragments, 2)
	// 降级排序按距离升序，相关性为 1-distance
	assert.Equal(t, "near", outcome.Fragments[0].Content)
	assert.InDelta(t, 0.8, outcome.Fragments[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 0.4, outcome.Fragments[1].RelevanceScore, 1e-9)
}

func TestRetriever_QualityGateBeforeQuantityGate(t *testing.T) {
	results := []kb.SearchResult{
		makeResult("c0", "good-1", 0.1),
		makeResult("c1", "bad-1", 0.9),
		makeResult("c2", "good-2", 0.2),
		makeResult("c3", "bad-2", 0.95),
	}
	store := &stubStore{results: results}
	r := newTestRetriever(store, nil)
	r.minRelevance = 0.5
	r.maxFragments = 3

	outcome, err := r.RetrieveRelevantKnowledge(context.Background(), "query", testCollections())
	require.NoError(t, err)
	// 阈值以下的候选不得挤占名额
	require.Len(t, outcome.Fragments, 2)
	assert.Equal(t, "good-1", outcome.Fragments[0].Content)
	assert.Equal(t, "good-2", outcome.Fragments[1].Content)
}

func TestRetriever_MaxFragmentsTruncation(t *testing.T) {
	store := &stubStore{results: []kb.SearchResult{
		makeResult("c0", "a", 0.1),
		makeResult("c1", "b", 0.2),
		makeResult("c2", "c", 0.3),
	}}
	r := newTestRetriever(store, nil)
	r.minRelevance = 0.1
	r.maxFragments = 2

	outcome, err := r.RetrieveRelevantKnowledge(context.Background(), "query", testCollections())
	require.NoError(t, err)
	assert.Len(t, outcome.Fragments, 2)
}

func TestRetriever_EmptyQueryAndNoCollections(t *testing.T) {
	r := newTestRetriever(&stubStore{}, nil)

	outcome, err := r.RetrieveRelevantKnowledge(context.Background(), "   ", testCollections())
	require.NoError(t, err)
	assert.Empty(t, outcome.Fragments)

	outcome, err = r.RetrieveRelevantKnowledge(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, outcome.Fragments)
}

func TestRetriever_EmbeddingErrorIsTyped(t *testing.T) {
	conf := config.Default()
	conf.EmbeddingConfig.Dimensions = 8
	r := NewRetriever(failingEmbedder{}, &stubStore{}, nil, conf)
	r.backoff.BaseDelay = 0

	_, err := r.RetrieveRelevantKnowledge(context.Background(), "query", testCollections())
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.EmbeddingAPI))
}

func TestRetriever_FormatContextDropsWholeFragments(t *testing.T) {
	r := newTestRetriever(&stubStore{}, nil)
	r.maxContext = 120

	fragments := []kb.KnowledgeFragment{
		{Content: strings.Repeat("a", 50), SourceDocument: "x.txt", CollectionName: "C", RelevanceScore: 0.9},
		{Content: strings.Repeat("b", 50), SourceDocument: "y.txt", CollectionName: "C", RelevanceScore: 0.5},
	}
	text := r.FormatContext(fragments)
	// 放不下两段时整段丢弃低分片段
	assert.Contains(t, text, "aaaa")
	assert.NotContains(t, text, "bbbb")
	assert.Contains(t, text, "[Source: x.txt | Collection: C]")
	assert.LessOrEqual(t, len([]rune(text)), r.maxContext)

	assert.Equal(t, "", r.FormatContext(nil))
}
