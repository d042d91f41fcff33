package service

import (
	"context"
	"fmt"
	"strings"

	"QuizGazer/internal/modules/knowledge/application/dto/request"
	"QuizGazer/internal/modules/knowledge/application/dto/respond"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/pipeline"
	"QuizGazer/internal/modules/knowledge/infrastructure/retriever"
	"QuizGazer/pkg/xerr"
)

// QueryService 检索预览与知识增强问答
type QueryService interface {
	// SearchKnowledge 只检索不生成，用于调试与预览
	SearchKnowledge(ctx context.Context, req request.SearchKnowledgeRequest) (*respond.SearchRespond, error)
	Ask(ctx context.Context, req request.AskRequest) (*pipeline.QueryResult, error)
	PipelineStatus(ctx context.Context) (*pipeline.PipelineStatus, error)
}

type queryServiceImpl struct {
	retriever   *retriever.Retriever
	rag         *pipeline.RAGPipeline
	collections repository.CollectionRepository
}

func NewQueryService(ret *retriever.Retriever, rag *pipeline.RAGPipeline, collections repository.CollectionRepository) QueryService {
	return &queryServiceImpl{retriever: ret, rag: rag, collections: collections}
}

func (s *queryServiceImpl) SearchKnowledge(ctx context.Context, req request.SearchKnowledgeRequest) (*respond.SearchRespond, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerr.New(xerr.BadRequest, "query is required")
	}
	cols, err := s.resolveCollections(ctx, req.CollectionNames)
	if err != nil {
		return nil, err
	}
	outcome, err := s.retriever.RetrieveRelevantKnowledge(ctx, query, cols)
	if err != nil {
		return nil, err
	}
	return &respond.SearchRespond{
		Query:       query,
		Fragments:   outcome.Fragments,
		Reranked:    outcome.Reranked,
		EmbeddingMs: outcome.EmbeddingMs,
		SearchMs:    outcome.SearchMs,
		RerankMs:    outcome.RerankMs,
		DurationMs:  outcome.DurationMs,
	}, nil
}

func (s *queryServiceImpl) Ask(ctx context.Context, req request.AskRequest) (*pipeline.QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, xerr.New(xerr.BadRequest, "question is required")
	}
	cols, err := s.resolveCollections(ctx, req.CollectionNames)
	if err != nil {
		return nil, err
	}
	return s.rag.ProcessQuery(ctx, &pipeline.QueryRequest{Question: question, Collections: cols})
}

func (s *queryServiceImpl) PipelineStatus(ctx context.Context) (*pipeline.PipelineStatus, error) {
	return s.rag.Status(ctx)
}

// resolveCollections 空名单表示全部集合；命名集合必须存在
func (s *queryServiceImpl) resolveCollections(ctx context.Context, names []string) ([]kb.Collection, error) {
	if len(names) == 0 {
		return s.collections.List(ctx)
	}
	cols := make([]kb.Collection, 0, len(names))
	for _, name := range names {
		col, err := s.collections.GetByName(ctx, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if col == nil {
			return nil, xerr.New(xerr.CollectionNotFound, fmt.Sprintf("collection %q not found", name))
		}
		cols = append(cols, *col)
	}
	return cols, nil
}
