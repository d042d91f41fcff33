package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// RetrieveOutcome 一次检索的结果与耗时分解
type RetrieveOutcome struct {
	Fragments   []kb.KnowledgeFragment `json:"fragments"`
	Reranked    bool                   `json:"reranked"`
	EmbeddingMs int64                  `json:"embedding_ms"`
	SearchMs    int64                  `json:"search_ms"`
	RerankMs    int64                  `json:"rerank_ms"`
	DurationMs  int64                  `json:"duration_ms"`
}

// Retriever 查询向量化 → 跨集合检索 → 重排 → 过滤截断。
// 重排分数为最终相关性依据；重排不可用时回退为 1-distance 排序。
type Retriever struct {
	embedder embedding.Embedder
	store    repository.VectorStore
	reranker repository.Reranker // nil 表示未启用

	dim          int
	topK         int
	minRelevance float64
	maxFragments int
	maxContext   int
	backoff      util.BackoffPolicy
}

func NewRetriever(embedder embedding.Embedder, store repository.VectorStore, reranker repository.Reranker, conf *config.Config) *Retriever {
	kbConf := conf.KnowledgeBaseConfig
	return &Retriever{
		embedder:     embedder,
		store:        store,
		reranker:     reranker,
		dim:          conf.EmbeddingConfig.Dimensions,
		topK:         kbConf.TopK,
		minRelevance: kbConf.MinRelevanceScore,
		maxFragments: kbConf.MaxKnowledgeFragments,
		maxContext:   kbConf.MaxContextLength,
		backoff:      util.DefaultBackoff(conf.EmbeddingConfig.RetryTimes),
	}
}

// EmbedQuery 查询向量化，按退避策略重试
func (r *Retriever) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var vecs [][]float64
	err := util.Retry(ctx, r.backoff, func(ctx context.Context) error {
		var embedErr error
		vecs, embedErr = r.embedder.EmbedStrings(ctx, []string{query})
		return embedErr
	})
	if err != nil {
		return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("query embedding failed: %s", util.ScrubErrMsg(err.Error())))
	}
	if len(vecs) != 1 {
		return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("query embedding returned %d vectors", len(vecs)))
	}
	if r.dim > 0 && len(vecs[0]) != r.dim {
		return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("query embedding dim %d does not match configured %d", len(vecs[0]), r.dim))
	}
	v32 := make([]float32, len(vecs[0]))
	for i, f := range vecs[0] {
		v32[i] = float32(f)
	}
	return v32, nil
}

// RetrieveRelevantKnowledge 在给定集合内检索并排序。
// 先按相关性阈值过滤，再截断到片段数上限。
func (r *Retriever) RetrieveRelevantKnowledge(ctx context.Context, query string, collections []kb.Collection) (*RetrieveOutcome, error) {
	start := time.Now()
	outcome := &RetrieveOutcome{Fragments: []kb.KnowledgeFragment{}}
	if strings.TrimSpace(query) == "" || len(collections) == 0 {
		return outcome, nil
	}

	nameByID := make(map[string]string, len(collections))
	ids := make([]string, 0, len(collections))
	for _, c := range collections {
		ids = append(ids, c.Id)
		nameByID[c.Id] = c.Name
	}

	embedStart := time.Now()
	queryVec, err := r.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	outcome.EmbeddingMs = time.Since(embedStart).Milliseconds()

	// 多取候选，给重排留余量
	searchStart := time.Now()
	results, err := r.store.Search(ctx, ids, queryVec, r.topK*2)
	if err != nil {
		return nil, err
	}
	outcome.SearchMs = time.Since(searchStart).Milliseconds()

	if len(results) == 0 {
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome, nil
	}

	rerankStart := time.Now()
	fragments, reranked := r.rankResults(ctx, query, results, nameByID)
	outcome.RerankMs = time.Since(rerankStart).Milliseconds()
	outcome.Reranked = reranked

	// 质量闸门先于数量闸门
	filtered := fragments[:0]
	for _, f := range fragments {
		if f.RelevanceScore >= r.minRelevance {
			filtered = append(filtered, f)
		}
	}
	if len(filtered) > r.maxFragments {
		filtered = filtered[:r.maxFragments]
	}
	outcome.Fragments = filtered
	outcome.DurationMs = time.Since(start).Milliseconds()

	zlog.Info("knowledge retrieved",
		zap.Int("candidates", len(results)),
		zap.Int("fragments", len(filtered)),
		zap.Bool("reranked", reranked),
		zap.Int64("durationMs", outcome.DurationMs))
	return outcome, nil
}

// rankResults 优先用重排分数排序；重排失败时降级为距离排序，
// 相关性取 max(0, 1-distance)。
func (r *Retriever) rankResults(ctx context.Context, query string, results []kb.SearchResult, nameByID map[string]string) ([]kb.KnowledgeFragment, bool) {
	if r.reranker != nil {
		docs := make([]string, 0, len(results))
		for _, res := range results {
			docs = append(docs, res.Content)
		}
		scores, err := r.reranker.Rerank(ctx, query, docs)
		if err == nil {
			fragments := make([]kb.KnowledgeFragment, 0, len(scores))
			for _, s := range scores {
				if s.Index < 0 || s.Index >= len(results) {
					continue
				}
				fragments = append(fragments, r.toFragment(results[s.Index], s.Score, nameByID))
			}
			sort.SliceStable(fragments, func(i, j int) bool {
				return fragments[i].RelevanceScore > fragments[j].RelevanceScore
			})
			return fragments, true
		}
		zlog.Warn("rerank unavailable, falling back to vector distance", zap.Error(err))
	}

	sorted := append([]kb.SearchResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })
	fragments := make([]kb.KnowledgeFragment, 0, len(sorted))
	for _, res := range sorted {
		score := 1 - res.Distance
		if score < 0 {
			score = 0
		}
		fragments = append(fragments, r.toFragment(res, score, nameByID))
	}
	return fragments, false
}

func (r *Retriever) toFragment(res kb.SearchResult, score float64, nameByID map[string]string) kb.KnowledgeFragment {
	name := nameByID[res.Collection]
	if name == "" {
		name = res.Collection
	}
	return kb.KnowledgeFragment{
		Content:        res.Content,
		SourceDocument: res.Metadata.SourceFile,
		CollectionName: name,
		RelevanceScore: score,
		Metadata:       res.Metadata,
	}
}

// FormatContext 将片段拼装为带溯源标注的上下文。
// 超出长度上限时从相关性最低的片段开始整段丢弃，不截断片段内部。
func (r *Retriever) FormatContext(fragments []kb.KnowledgeFragment) string {
	if len(fragments) == 0 {
		return ""
	}

	kept := append([]kb.KnowledgeFragment(nil), fragments...)
	for len(kept) > 0 {
		var b strings.Builder
		for i, f := range kept {
			fmt.Fprintf(&b, "[Source: %s | Collection: %s]\n%s", f.SourceDocument, f.CollectionName, f.Content)
			if i < len(kept)-1 {
				b.WriteString("\n\n")
			}
		}
		text := b.String()
		if len([]rune(text)) <= r.maxContext {
			return text
		}
		// fragments 已按相关性降序，砍掉末尾的最低分片段
		kept = kept[:len(kept)-1]
	}
	return ""
}
