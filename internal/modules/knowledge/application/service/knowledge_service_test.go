package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/initial"
	"QuizGazer/internal/modules/knowledge/application/dto/request"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/chunking"
	"QuizGazer/internal/modules/knowledge/infrastructure/embedding"
	"QuizGazer/internal/modules/knowledge/infrastructure/persistence"
	"QuizGazer/internal/modules/knowledge/infrastructure/pipeline"
	"QuizGazer/internal/modules/knowledge/infrastructure/processor"
	"QuizGazer/internal/modules/knowledge/infrastructure/queue"
	"QuizGazer/internal/modules/knowledge/infrastructure/retriever"
	"QuizGazer/internal/modules/knowledge/infrastructure/vectordb"
	"QuizGazer/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	answer string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.answer, nil
}

type serviceFixture struct {
	conf      *config.Config
	knowledge KnowledgeService
	tasks     TaskService
	query     QueryService
	store     repository.VectorStore
	uploadDir string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	conf := config.Default()
	conf.DatabaseConfig.SqlitePath = filepath.Join(dir, "meta.db")
	conf.VectorStoreConfig.LocalPath = filepath.Join(dir, "vectors.db")
	conf.EmbeddingConfig.Dimensions = 8
	conf.KnowledgeBaseConfig.Enabled = true
	conf.KnowledgeBaseConfig.UploadDir = filepath.Join(dir, "uploads")
	// mock 向量彼此接近正交，放开阈值让命中可见
	conf.KnowledgeBaseConfig.MinRelevanceScore = -1

	db, err := initial.NewGormDB(conf)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := vectordb.NewVectorStore(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	colRepo := persistence.NewCollectionRepository(db)
	docRepo := persistence.NewDocumentRepository(db)
	uow := persistence.NewKnowledgeUnitOfWork(db)

	chunker := chunking.NewRecursiveChunker(conf.KnowledgeBaseConfig.ChunkSize, conf.KnowledgeBaseConfig.ChunkOverlap)
	proc := processor.NewProcessor(chunker, conf.KnowledgeBaseConfig.MaxFileSizeMB)
	embedder := embedding.NewMockEmbedder(conf.EmbeddingConfig.Dimensions)

	ingest := pipeline.NewIngestPipeline(proc, embedder, store, colRepo, uow, conf)
	tm := queue.NewTaskManager(ingest, conf)
	tm.Start(ctx)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tm.Shutdown(shutdownCtx)
	})

	ret := retriever.NewRetriever(embedder, store, nil, conf)
	rag := pipeline.NewRAGPipeline(ret, &stubGenerator{answer: "pipeline answer"}, colRepo, docRepo, conf)

	return &serviceFixture{
		conf:      conf,
		knowledge: NewKnowledgeService(colRepo, docRepo, uow, store, proc, tm, conf),
		tasks:     NewTaskService(tm),
		query:     NewQueryService(ret, rag, colRepo),
		store:     store,
		uploadDir: dir,
	}
}

func (f *serviceFixture) writeUpload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.uploadDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *serviceFixture) ingestFile(t *testing.T, collectionID, name, content, docType string) *kb.ProcessingTask {
	t.Helper()
	path := f.writeUpload(t, name, content)
	submitted, err := f.knowledge.AddDocument(context.Background(), collectionID, path, name, docType)
	require.NoError(t, err)

	var task *kb.ProcessingTask
	require.Eventually(t, func() bool {
		got, err := f.tasks.GetTask(submitted.TaskID)
		if err != nil {
			return false
		}
		task = got
		return got.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return task
}

func TestCreateCollectionValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "bad/name!"})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.BadRequest))

	_, err = f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{
		Name:        "ok name",
		Description: strings.Repeat("d", kb.MaxDescriptionLen+1),
	})
	require.Error(t, err)

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "Exam Notes", Description: "first"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Id)

	_, err = f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "Exam Notes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateCollectionLimit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	svc := f.knowledge.(*knowledgeServiceImpl)
	svc.maxCollections = 1

	_, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "one"})
	require.NoError(t, err)
	_, err = f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestQuestionBankEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "C"})
	require.NoError(t, err)

	csv := "question,answer\nWhat is the capital of France?,Paris\nWhat data structure backs most SQL indexes?,B-tree\n"
	task := f.ingestFile(t, created.Id, "faq.csv", csv, kb.DocTypeQuestionBank)
	require.Equal(t, kb.TaskCompleted, task.Status)
	assert.Equal(t, 1.0, task.Progress)
	assert.Equal(t, 2, task.ChunkCount)
	assert.NotEmpty(t, task.DocumentID)

	// 统计反映摄取结果
	stats, err := f.knowledge.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCollections)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.True(t, stats.VectorStore.Connected)

	detail, err := f.knowledge.GetCollection(ctx, created.Id)
	require.NoError(t, err)
	require.Len(t, detail.Documents, 1)
	assert.Equal(t, "faq.csv", detail.Documents[0].Filename)
	assert.Equal(t, 2, detail.TotalChunks)

	// 检索预览带溯源
	search, err := f.query.SearchKnowledge(ctx, request.SearchKnowledgeRequest{
		Query:           "capital of France",
		CollectionNames: []string{"C"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, search.Fragments)
	assert.Equal(t, "faq.csv", search.Fragments[0].SourceDocument)
	assert.Equal(t, "C", search.Fragments[0].CollectionName)
	assert.Contains(t, search.Fragments[0].Content, "Question:")

	// 问答走完整 RAG 链路
	answer, err := f.query.Ask(ctx, request.AskRequest{Question: "What is the capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, "pipeline answer", answer.Answer)
	assert.True(t, answer.UsedKnowledgeBase)

	status, err := f.query.PipelineStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, 1, status.TotalCollections)
	assert.Equal(t, 1, status.TotalDocuments)
}

func TestRemoveDocumentRestoresCounters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "C"})
	require.NoError(t, err)
	task := f.ingestFile(t, created.Id, "notes.txt", "Postgres uses MVCC for concurrency control.", kb.DocTypeKnowledge)
	require.Equal(t, kb.TaskCompleted, task.Status)

	require.NoError(t, f.knowledge.RemoveDocument(ctx, created.Id, task.DocumentID))

	stats, err := f.knowledge.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDocuments)
	assert.Equal(t, 0, stats.TotalChunks)

	count, err := f.store.CountChunks(ctx, created.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// 再删同一文档报 NotFound
	err = f.knowledge.RemoveDocument(ctx, created.Id, task.DocumentID)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.NotFound))
}

func TestDeleteCollectionCascades(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "C"})
	require.NoError(t, err)
	task := f.ingestFile(t, created.Id, "notes.txt", "WAL ensures durability across crashes.", kb.DocTypeKnowledge)
	require.Equal(t, kb.TaskCompleted, task.Status)

	require.NoError(t, f.knowledge.DeleteCollection(ctx, created.Id))

	_, err = f.knowledge.GetCollection(ctx, created.Id)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.CollectionNotFound))

	exists, err := f.store.HasCollection(ctx, created.Id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExportImportStrategies(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "Source", Description: "origin"})
	require.NoError(t, err)
	task := f.ingestFile(t, created.Id, "notes.txt", "Raft elects a single leader per term.", kb.DocTypeKnowledge)
	require.Equal(t, kb.TaskCompleted, task.Status)

	export, err := f.knowledge.ExportCollection(ctx, created.Id)
	require.NoError(t, err)
	assert.Equal(t, "Source", export.Name)
	require.Len(t, export.Documents, 1)

	// 导入到新名字：创建并带入文档元数据
	asCopy := *export
	asCopy.Name = "Copy"
	imported, err := f.knowledge.ImportCollection(ctx, &asCopy, "skip")
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Imported)

	copyCol, err := f.knowledge.GetCollection(ctx, imported.CollectionID)
	require.NoError(t, err)
	require.Len(t, copyCol.Documents, 1)
	assert.Equal(t, "notes.txt", copyCol.Documents[0].Filename)
	assert.Equal(t, 1, copyCol.DocumentCount)

	// skip：目标已存在则不动
	res, err := f.knowledge.ImportCollection(ctx, &asCopy, "skip")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	// merge：按文件名去重，新文件补进来
	merged := asCopy
	merged.Documents = append([]kb.Document(nil), asCopy.Documents...)
	merged.Documents = append(merged.Documents, kb.Document{
		Filename:    "extra.txt",
		DocType:     kb.DocTypeKnowledge,
		ChunkCount:  3,
		ProcessedAt: time.Now(),
	})
	res, err = f.knowledge.ImportCollection(ctx, &merged, "merge")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	copyCol, err = f.knowledge.GetCollection(ctx, imported.CollectionID)
	require.NoError(t, err)
	assert.Len(t, copyCol.Documents, 2)

	// replace：整体覆盖
	res, err = f.knowledge.ImportCollection(ctx, &asCopy, "replace")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	copyCol, err = f.knowledge.GetCollection(ctx, imported.CollectionID)
	require.NoError(t, err)
	assert.Len(t, copyCol.Documents, 1)

	// 未知策略报参数错误
	_, err = f.knowledge.ImportCollection(ctx, &asCopy, "overwrite")
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.BadRequest))
}

func TestSearchUnknownCollection(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.query.SearchKnowledge(context.Background(), request.SearchKnowledgeRequest{
		Query:           "anything",
		CollectionNames: []string{"ghost"},
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.CollectionNotFound))
}

func TestAddDocumentRejectsBadInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.knowledge.CreateCollection(ctx, request.CreateCollectionRequest{Name: "C"})
	require.NoError(t, err)

	path := f.writeUpload(t, "evil.exe", "binary")
	_, err = f.knowledge.AddDocument(ctx, created.Id, path, "evil.exe", kb.DocTypeKnowledge)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.UnsupportedFormat))

	_, err = f.knowledge.AddDocument(ctx, "missing-collection", path, "evil.exe", kb.DocTypeKnowledge)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.CollectionNotFound))
}
