package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/application/dto/request"
	"QuizGazer/internal/modules/knowledge/application/dto/respond"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/processor"
	"QuizGazer/internal/modules/knowledge/infrastructure/queue"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"go.uber.org/zap"
)

const exportVersion = 1

// KnowledgeService 集合与文档生命周期管理
type KnowledgeService interface {
	CreateCollection(ctx context.Context, req request.CreateCollectionRequest) (*respond.CollectionRespond, error)
	ListCollections(ctx context.Context) ([]respond.CollectionRespond, error)
	GetCollection(ctx context.Context, id string) (*respond.CollectionDetailRespond, error)
	DeleteCollection(ctx context.Context, id string) error

	// AddDocument 校验后提交异步摄取任务，立即返回任务 ID
	AddDocument(ctx context.Context, collectionID, filePath, filename, docType string) (*respond.SubmitTaskRespond, error)
	RemoveDocument(ctx context.Context, collectionID, documentID string) error
	ListDocuments(ctx context.Context, collectionID string) ([]kb.Document, error)

	GetStats(ctx context.Context) (*respond.StatsRespond, error)
	ExportCollection(ctx context.Context, id string) (*respond.CollectionExport, error)
	ImportCollection(ctx context.Context, export *respond.CollectionExport, strategy string) (*respond.ImportRespond, error)
}

type knowledgeServiceImpl struct {
	collections repository.CollectionRepository
	documents   repository.DocumentRepository
	uow         repository.KnowledgeUnitOfWork
	store       repository.VectorStore
	processor   *processor.Processor
	tasks       *queue.TaskManager

	maxCollections int
}

func NewKnowledgeService(
	collections repository.CollectionRepository,
	documents repository.DocumentRepository,
	uow repository.KnowledgeUnitOfWork,
	store repository.VectorStore,
	proc *processor.Processor,
	tasks *queue.TaskManager,
	conf *config.Config,
) KnowledgeService {
	return &knowledgeServiceImpl{
		collections:    collections,
		documents:      documents,
		uow:            uow,
		store:          store,
		processor:      proc,
		tasks:          tasks,
		maxCollections: conf.KnowledgeBaseConfig.MaxCollections,
	}
}

func (s *knowledgeServiceImpl) CreateCollection(ctx context.Context, req request.CreateCollectionRequest) (*respond.CollectionRespond, error) {
	name := strings.TrimSpace(req.Name)
	if !kb.ValidCollectionName(name) {
		return nil, xerr.New(xerr.BadRequest, "collection name must be 1-100 characters of letters, digits, underscore, hyphen or space")
	}
	if len(req.Description) > kb.MaxDescriptionLen {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("description exceeds %d characters", kb.MaxDescriptionLen))
	}

	existing, err := s.collections.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("collection %q already exists", name))
	}
	count, err := s.collections.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count >= int64(s.maxCollections) {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("collection limit %d reached", s.maxCollections))
	}

	now := time.Now()
	col := &kb.Collection{
		Id:          util.GenerateUUID(),
		Name:        name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.collections.Create(ctx, col); err != nil {
		return nil, err
	}
	if err := s.store.CreateCollection(ctx, col.Id); err != nil {
		// 向量集合创建失败时回滚元数据，两边保持一致
		if delErr := s.collections.Delete(ctx, col.Id); delErr != nil {
			zlog.Error("collection metadata rollback failed", zap.String("collectionId", col.Id), zap.Error(delErr))
		}
		return nil, err
	}

	zlog.Info("collection created", zap.String("collectionId", col.Id), zap.String("name", name))
	return toCollectionRespond(col), nil
}

func (s *knowledgeServiceImpl) ListCollections(ctx context.Context) ([]respond.CollectionRespond, error) {
	cols, err := s.collections.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]respond.CollectionRespond, 0, len(cols))
	for i := range cols {
		out = append(out, *toCollectionRespond(&cols[i]))
	}
	return out, nil
}

func (s *knowledgeServiceImpl) GetCollection(ctx context.Context, id string) (*respond.CollectionDetailRespond, error) {
	col, err := s.mustGetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	return &respond.CollectionDetailRespond{
		CollectionRespond: *toCollectionRespond(col),
		Documents:         docs,
	}, nil
}

func (s *knowledgeServiceImpl) DeleteCollection(ctx context.Context, id string) error {
	col, err := s.mustGetCollection(ctx, id)
	if err != nil {
		return err
	}
	// 先删向量数据再删元数据；向量删除幂等，失败可重试整个操作
	if err := s.store.DeleteCollection(ctx, col.Id); err != nil {
		return err
	}
	if err := s.collections.Delete(ctx, col.Id); err != nil {
		return err
	}
	zlog.Info("collection deleted", zap.String("collectionId", col.Id), zap.String("name", col.Name))
	return nil
}

func (s *knowledgeServiceImpl) AddDocument(ctx context.Context, collectionID, filePath, filename, docType string) (*respond.SubmitTaskRespond, error) {
	if _, err := s.mustGetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	if docType == "" {
		docType = kb.DocTypeKnowledge
	}
	// 提交前同步校验格式与大小，坏输入不进队列
	if err := s.processor.ValidateFile(filePath, docType); err != nil {
		return nil, err
	}
	taskID, err := s.tasks.Submit(queue.SubmitRequest{
		CollectionID: collectionID,
		Filename:     filename,
		FilePath:     filePath,
		DocType:      docType,
	})
	if err != nil {
		return nil, err
	}
	return &respond.SubmitTaskRespond{TaskID: taskID}, nil
}

func (s *knowledgeServiceImpl) RemoveDocument(ctx context.Context, collectionID, documentID string) error {
	if _, err := s.mustGetCollection(ctx, collectionID); err != nil {
		return err
	}
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.CollectionId != collectionID {
		return xerr.New(xerr.NotFound, fmt.Sprintf("document %s not found in collection %s", documentID, collectionID))
	}
	// 先删向量再删元数据：中途失败只会多出可重试的残留向量，不会出现指向空向量的文档
	if err := s.store.DeleteChunks(ctx, collectionID, documentID); err != nil {
		return err
	}
	if err := s.uow.RemoveDocument(ctx, doc); err != nil {
		return err
	}
	zlog.Info("document removed",
		zap.String("collectionId", collectionID),
		zap.String("documentId", documentID),
		zap.String("filename", doc.Filename))
	return nil
}

func (s *knowledgeServiceImpl) ListDocuments(ctx context.Context, collectionID string) ([]kb.Document, error) {
	if _, err := s.mustGetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	return s.documents.ListByCollection(ctx, collectionID)
}

func (s *knowledgeServiceImpl) GetStats(ctx context.Context) (*respond.StatsRespond, error) {
	cols, err := s.collections.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &respond.StatsRespond{
		TotalCollections: len(cols),
		Collections:      make([]respond.CollectionStatsItem, 0, len(cols)),
		VectorStore:      s.store.TestConnection(ctx),
	}
	for _, col := range cols {
		stats.TotalDocuments += col.DocumentCount
		stats.TotalChunks += col.TotalChunks
		stats.Collections = append(stats.Collections, respond.CollectionStatsItem{
			Id:            col.Id,
			Name:          col.Name,
			DocumentCount: col.DocumentCount,
			TotalChunks:   col.TotalChunks,
		})
	}
	return stats, nil
}

func (s *knowledgeServiceImpl) ExportCollection(ctx context.Context, id string) (*respond.CollectionExport, error) {
	col, err := s.mustGetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	return &respond.CollectionExport{
		Version:     exportVersion,
		ExportedAt:  time.Now(),
		Name:        col.Name,
		Description: col.Description,
		Documents:   docs,
	}, nil
}

// ImportCollection 按策略导入集合元数据：
// skip 只在目标不存在时导入，replace 整体覆盖，merge 按文件名补齐缺失文档。
func (s *knowledgeServiceImpl) ImportCollection(ctx context.Context, export *respond.CollectionExport, strategy string) (*respond.ImportRespond, error) {
	if export == nil {
		return nil, xerr.New(xerr.BadRequest, "import payload is empty")
	}
	name := strings.TrimSpace(export.Name)
	if !kb.ValidCollectionName(name) {
		return nil, xerr.New(xerr.BadRequest, "imported collection name is invalid")
	}
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	if strategy == "" {
		strategy = "skip"
	}
	switch strategy {
	case "skip", "replace", "merge":
	default:
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("unknown import strategy %q, expected skip/replace/merge", strategy))
	}

	existing, err := s.collections.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		created, err := s.CreateCollection(ctx, request.CreateCollectionRequest{Name: name, Description: export.Description})
		if err != nil {
			return nil, err
		}
		docs := normalizeImportDocs(export.Documents)
		if err := s.uow.ReplaceDocuments(ctx, created.Id, docs); err != nil {
			return nil, err
		}
		return &respond.ImportRespond{CollectionID: created.Id, Strategy: strategy, Imported: len(docs)}, nil
	}

	switch strategy {
	case "skip":
		return &respond.ImportRespond{CollectionID: existing.Id, Strategy: strategy, Skipped: len(export.Documents)}, nil
	case "replace":
		docs := normalizeImportDocs(export.Documents)
		if err := s.uow.ReplaceDocuments(ctx, existing.Id, docs); err != nil {
			return nil, err
		}
		zlog.Info("collection replaced on import", zap.String("collectionId", existing.Id), zap.Int("documents", len(docs)))
		return &respond.ImportRespond{CollectionID: existing.Id, Strategy: strategy, Imported: len(docs)}, nil
	default: // merge
		current, err := s.documents.ListByCollection(ctx, existing.Id)
		if err != nil {
			return nil, err
		}
		byFilename := make(map[string]bool, len(current))
		for _, d := range current {
			byFilename[d.Filename] = true
		}
		merged := append([]kb.Document(nil), current...)
		imported, skipped := 0, 0
		for _, d := range normalizeImportDocs(export.Documents) {
			if byFilename[d.Filename] {
				skipped++
				continue
			}
			merged = append(merged, d)
			imported++
		}
		if err := s.uow.ReplaceDocuments(ctx, existing.Id, merged); err != nil {
			return nil, err
		}
		zlog.Info("collection merged on import",
			zap.String("collectionId", existing.Id),
			zap.Int("imported", imported),
			zap.Int("skipped", skipped))
		return &respond.ImportRespond{CollectionID: existing.Id, Strategy: strategy, Imported: imported, Skipped: skipped}, nil
	}
}

func (s *knowledgeServiceImpl) mustGetCollection(ctx context.Context, id string) (*kb.Collection, error) {
	col, err := s.collections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, xerr.New(xerr.CollectionNotFound, fmt.Sprintf("collection %s not found", id))
	}
	return col, nil
}

// normalizeImportDocs 导入的文档拿新主键，避免跨库主键冲突
func normalizeImportDocs(docs []kb.Document) []kb.Document {
	out := make([]kb.Document, 0, len(docs))
	now := time.Now()
	for _, d := range docs {
		d.Id = util.GenerateUUID()
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		out = append(out, d)
	}
	return out
}

func toCollectionRespond(col *kb.Collection) *respond.CollectionRespond {
	return &respond.CollectionRespond{
		Id:            col.Id,
		Name:          col.Name,
		Description:   col.Description,
		DocumentCount: col.DocumentCount,
		TotalChunks:   col.TotalChunks,
		CreatedAt:     col.CreatedAt,
		UpdatedAt:     col.UpdatedAt,
	}
}
