package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/llm"
	"QuizGazer/internal/modules/knowledge/infrastructure/retriever"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// QueryRequest 一次问答请求，Collections 为已解析的目标集合
type QueryRequest struct {
	Question    string
	Collections []kb.Collection
}

// QueryResult 问答结果。UsedKnowledgeBase 标记答案是否基于检索上下文
type QueryResult struct {
	QueryID           string                 `json:"query_id"`
	Question          string                 `json:"question"`
	Answer            string                 `json:"answer"`
	UsedKnowledgeBase bool                   `json:"used_knowledge_base"`
	FallbackReason    string                 `json:"fallback_reason,omitempty"`
	Reranked          bool                   `json:"reranked"`
	Fragments         []kb.KnowledgeFragment `json:"fragments"`
	EmbeddingMs       int64                  `json:"embedding_ms"`
	SearchMs          int64                  `json:"search_ms"`
	RerankMs          int64                  `json:"rerank_ms"`
	GenerateMs        int64                  `json:"generate_ms"`
	DurationMs        int64                  `json:"duration_ms"`
}

// PipelineStatus 问答链路健康状态
type PipelineStatus struct {
	Enabled           bool `json:"enabled"`
	TotalCollections  int  `json:"total_collections"`
	TotalDocuments    int  `json:"total_documents"`
	CanProcessQueries bool `json:"can_process_queries"`
}

// ragState 问答 Pipeline 的中间状态（在节点间传递）
type ragState struct {
	Req            *QueryRequest
	Fragments      []kb.KnowledgeFragment
	Reranked       bool
	Context        string
	FallbackReason string
	Answer         string
	Start          time.Time
	EmbeddingMs    int64
	SearchMs       int64
	RerankMs       int64
	GenerateMs     int64
	Err            error
}

// RAGPipeline 知识增强问答：检索失败或无可用知识时降级为直接生成，
// 仅生成失败会让整个请求失败。
type RAGPipeline struct {
	retriever   *retriever.Retriever
	generator   llm.Generator
	collections repository.CollectionRepository
	documents   repository.DocumentRepository
	enabled     bool

	compileOnce sync.Once
	runnable    compose.Runnable[*QueryRequest, *QueryResult]
	compileErr  error
}

func NewRAGPipeline(
	ret *retriever.Retriever,
	gen llm.Generator,
	collections repository.CollectionRepository,
	documents repository.DocumentRepository,
	conf *config.Config,
) *RAGPipeline {
	return &RAGPipeline{
		retriever:   ret,
		generator:   gen,
		collections: collections,
		documents:   documents,
		enabled:     conf.KnowledgeBaseConfig.Enabled,
	}
}

// buildGraph 构建问答 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → Retrieve → BuildPrompt → Generate → BuildResult
func (p *RAGPipeline) buildGraph(ctx context.Context) (compose.Runnable[*QueryRequest, *QueryResult], error) {
	const (
		Validate    = "Validate"
		Retrieve    = "Retrieve"
		BuildPrompt = "BuildPrompt"
		Generate    = "Generate"
		BuildResult = "BuildResult"
	)
	g := compose.NewGraph[*QueryRequest, *QueryResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(Retrieve, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(Retrieve))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(Generate, compose.InvokableLambdaWithOption(p.generateNode), compose.WithNodeName(Generate))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, Retrieve)
	_ = g.AddEdge(Retrieve, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, Generate)
	_ = g.AddEdge(Generate, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	return g.Compile(ctx, compose.WithGraphName("KnowledgeQueryPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// ProcessQuery 执行一次问答，图只编译一次
func (p *RAGPipeline) ProcessQuery(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	p.compileOnce.Do(func() {
		p.runnable, p.compileErr = p.buildGraph(ctx)
	})
	if p.compileErr != nil {
		return nil, p.compileErr
	}
	return p.runnable.Invoke(ctx, req)
}

// Status 报告问答链路是否就绪
func (p *RAGPipeline) Status(ctx context.Context) (*PipelineStatus, error) {
	st := &PipelineStatus{Enabled: p.enabled}
	colCount, err := p.collections.Count(ctx)
	if err != nil {
		return nil, err
	}
	docCount, err := p.documents.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	st.TotalCollections = int(colCount)
	st.TotalDocuments = int(docCount)
	st.CanProcessQueries = p.generator != nil
	if r, ok := p.generator.(interface{ Ready() bool }); ok {
		st.CanProcessQueries = r.Ready()
	}
	return st, nil
}

// validateNode 节点 1：校验并规范化请求
func (p *RAGPipeline) validateNode(ctx context.Context, req *QueryRequest, _ ...any) (*ragState, error) {
	_ = ctx
	st := &ragState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("query request is nil")
		return st, nil
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		st.Err = fmt.Errorf("missing question")
		return st, nil
	}
	return st, nil
}

// retrieveNode 节点 2：知识检索。失败不终止请求，记录降级原因
func (p *RAGPipeline) retrieveNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st == nil {
		return &ragState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	if !p.enabled {
		st.FallbackReason = "knowledge base disabled"
		return st, nil
	}
	if len(st.Req.Collections) == 0 {
		st.FallbackReason = "no collections selected"
		return st, nil
	}

	outcome, err := p.retriever.RetrieveRelevantKnowledge(ctx, st.Req.Question, st.Req.Collections)
	if err != nil {
		zlog.Warn("retrieval failed, answering without knowledge base",
			zap.String("question", st.Req.Question),
			zap.Error(err))
		st.FallbackReason = "retrieval failed"
		return st, nil
	}
	st.EmbeddingMs = outcome.EmbeddingMs
	st.SearchMs = outcome.SearchMs
	st.RerankMs = outcome.RerankMs
	st.Reranked = outcome.Reranked
	if len(outcome.Fragments) == 0 {
		st.FallbackReason = "no relevant knowledge found"
		return st, nil
	}
	st.Fragments = outcome.Fragments
	return st, nil
}

// buildPromptNode 节点 3：有知识走增强模板，无知识走直接问答
func (p *RAGPipeline) buildPromptNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	_ = ctx
	if st == nil {
		return &ragState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	if len(st.Fragments) == 0 {
		st.Context = st.Req.Question
		return st, nil
	}
	knowledge := p.retriever.FormatContext(st.Fragments)
	st.Context = fmt.Sprintf(
		"Answer the question using the reference knowledge below. "+
			"If the reference does not cover the question, say so and answer from general knowledge.\n\n"+
			"Reference knowledge:\n%s\n\nQuestion: %s",
		knowledge, st.Req.Question)
	return st, nil
}

// generateNode 节点 4：调用生成模型，这是唯一会让请求失败的外部调用
func (p *RAGPipeline) generateNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st == nil {
		return &ragState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	genStart := time.Now()
	answer, err := p.generator.Generate(ctx, st.Context)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Answer = answer
	st.GenerateMs = time.Since(genStart).Milliseconds()
	return st, nil
}

// buildResultNode 节点 5：组装响应并记录观测日志
func (p *RAGPipeline) buildResultNode(ctx context.Context, st *ragState, _ ...any) (*QueryResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	res := &QueryResult{
		QueryID:        fmt.Sprintf("q_%s_%d", util.GenerateShortUUID(), time.Now().UnixNano()),
		Answer:         st.Answer,
		FallbackReason: st.FallbackReason,
		Reranked:       st.Reranked,
		Fragments:      st.Fragments,
		EmbeddingMs:    st.EmbeddingMs,
		SearchMs:       st.SearchMs,
		RerankMs:       st.RerankMs,
		GenerateMs:     st.GenerateMs,
		DurationMs:     time.Since(st.Start).Milliseconds(),
	}
	if st.Req != nil {
		res.Question = st.Req.Question
	}
	res.UsedKnowledgeBase = len(st.Fragments) > 0

	zlog.Info("query processed",
		zap.String("queryId", res.QueryID),
		zap.String("question", res.Question),
		zap.Bool("usedKnowledgeBase", res.UsedKnowledgeBase),
		zap.String("fallbackReason", res.FallbackReason),
		zap.Int("fragments", len(res.Fragments)),
		zap.Bool("reranked", res.Reranked),
		zap.Int64("embeddingMs", res.EmbeddingMs),
		zap.Int64("searchMs", res.SearchMs),
		zap.Int64("rerankMs", res.RerankMs),
		zap.Int64("generateMs", res.GenerateMs),
		zap.Int64("durationMs", res.DurationMs),
		zap.Error(st.Err),
	)
	return res, st.Err
}
