package pipeline

import (
	"context"
	"errors"
	"testing"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/infrastructure/embedding"
	"QuizGazer/internal/modules/knowledge/infrastructure/retriever"
	"QuizGazer/pkg/xerr"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchStore struct {
	*fakeStore
	results   []kb.SearchResult
	searchErr error
}

func (s *searchStore) Search(ctx context.Context, collections []string, queryVec []float32, topK int) ([]kb.SearchResult, error) {
	return s.results, s.searchErr
}

type fakeGenerator struct {
	lastPrompt string
	answer     string
	err        error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type fakeDocRepo struct {
	count int64
}

func (r *fakeDocRepo) GetByID(ctx context.Context, id string) (*kb.Document, error) {
	return nil, nil
}
func (r *fakeDocRepo) ListByCollection(ctx context.Context, collectionID string) ([]kb.Document, error) {
	return nil, nil
}
func (r *fakeDocRepo) CountAll(ctx context.Context) (int64, error) { return r.count, nil }

type failEmbedder struct{}

func (failEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	return nil, errors.New("embedding service down")
}

type ragFixture struct {
	pipeline *RAGPipeline
	gen      *fakeGenerator
	store    *searchStore
}

func newRAGFixture(t *testing.T, enabled bool, results []kb.SearchResult) *ragFixture {
	t.Helper()
	conf := config.Default()
	conf.EmbeddingConfig.Dimensions = 8
	conf.KnowledgeBaseConfig.Enabled = enabled
	conf.KnowledgeBaseConfig.MinRelevanceScore = 0.1

	store := &searchStore{fakeStore: newFakeStore(), results: results}
	ret := retriever.NewRetriever(embedding.NewMockEmbedder(8), store, nil, conf)
	gen := &fakeGenerator{answer: "generated answer"}
	cols := &fakeCollectionRepo{byID: map[string]*kb.Collection{
		"col-1": {Id: "col-1", Name: "Databases"},
	}}
	return &ragFixture{
		pipeline: NewRAGPipeline(ret, gen, cols, &fakeDocRepo{count: 2}, conf),
		gen:      gen,
		store:    store,
	}
}

func ragCollections() []kb.Collection {
	return []kb.Collection{{Id: "col-1", Name: "Databases"}}
}

func hitResult(content string, distance float64) kb.SearchResult {
	return kb.SearchResult{
		ChunkID:    "c0",
		DocumentID: "doc-1",
		Collection: "col-1",
		Content:    content,
		Distance:   distance,
		Metadata:   kb.ChunkMetadata{SourceFile: "guide.pdf"},
	}
}

func TestRAGPipeline_AnswersWithKnowledge(t *testing.T) {
	f := newRAGFixture(t, true, []kb.SearchResult{hitResult("B-trees keep pages balanced.", 0.1)})

	res, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{
		Question:    "How do B-trees work?",
		Collections: ragCollections(),
	})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", res.Answer)
	assert.True(t, res.UsedKnowledgeBase)
	assert.Empty(t, res.FallbackReason)
	require.Len(t, res.Fragments, 1)
	assert.Contains(t, f.gen.lastPrompt, "B-trees keep pages balanced.")
	assert.Contains(t, f.gen.lastPrompt, "guide.pdf")
	assert.Contains(t, f.gen.lastPrompt, "How do B-trees work?")
	assert.NotEmpty(t, res.QueryID)
}

func TestRAGPipeline_FallbackWhenDisabled(t *testing.T) {
	f := newRAGFixture(t, false, []kb.SearchResult{hitResult("unused", 0.1)})

	res, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{
		Question:    "question",
		Collections: ragCollections(),
	})
	require.NoError(t, err)
	assert.False(t, res.UsedKnowledgeBase)
	assert.Equal(t, "knowledge base disabled", res.FallbackReason)
	// 直接生成时提示词就是原始问题
	assert.Equal(t, "question", f.gen.lastPrompt)
}

func TestRAGPipeline_FallbackWithoutCollections(t *testing.T) {
	f := newRAGFixture(t, true, nil)

	res, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{Question: "question"})
	require.NoError(t, err)
	assert.False(t, res.UsedKnowledgeBase)
	assert.Equal(t, "no collections selected", res.FallbackReason)
	assert.Equal(t, "generated answer", res.Answer)
}

func TestRAGPipeline_FallbackWhenNothingRelevant(t *testing.T) {
	f := newRAGFixture(t, true, nil)

	res, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{
		Question:    "question",
		Collections: ragCollections(),
	})
	require.NoError(t, err)
	assert.False(t, res.UsedKnowledgeBase)
	assert.Equal(t, "no relevant knowledge found", res.FallbackReason)
	assert.Equal(t, "generated answer", res.Answer)
}

func TestRAGPipeline_FallbackWhenRetrievalFails(t *testing.T) {
	conf := config.Default()
	conf.EmbeddingConfig.Dimensions = 8
	conf.EmbeddingConfig.RetryTimes = 1
	conf.KnowledgeBaseConfig.Enabled = true

	store := &searchStore{fakeStore: newFakeStore()}
	ret := retriever.NewRetriever(failEmbedder{}, store, nil, conf)
	gen := &fakeGenerator{answer: "generated answer"}
	p := NewRAGPipeline(ret, gen, &fakeCollectionRepo{byID: map[string]*kb.Collection{}}, &fakeDocRepo{}, conf)

	res, err := p.ProcessQuery(context.Background(), &QueryRequest{
		Question:    "question",
		Collections: ragCollections(),
	})
	require.NoError(t, err)
	assert.False(t, res.UsedKnowledgeBase)
	assert.Equal(t, "retrieval failed", res.FallbackReason)
	assert.Equal(t, "generated answer", res.Answer)
}

func TestRAGPipeline_GenerationFailureSurfaces(t *testing.T) {
	f := newRAGFixture(t, true, []kb.SearchResult{hitResult("knowledge", 0.1)})
	f.gen.err = xerr.New(xerr.GenerationAPI, "model unavailable")

	_, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{
		Question:    "question",
		Collections: ragCollections(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestRAGPipeline_RejectsEmptyQuestion(t *testing.T) {
	f := newRAGFixture(t, true, nil)

	_, err := f.pipeline.ProcessQuery(context.Background(), &QueryRequest{Question: "   "})
	require.Error(t, err)
}

func TestRAGPipeline_Status(t *testing.T) {
	f := newRAGFixture(t, true, nil)

	st, err := f.pipeline.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 1, st.TotalCollections)
	assert.Equal(t, 2, st.TotalDocuments)
	assert.True(t, st.CanProcessQueries)
}
