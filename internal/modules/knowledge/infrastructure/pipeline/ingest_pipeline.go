package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/processor"
	"QuizGazer/internal/modules/knowledge/infrastructure/queue"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

const embedBatchSize = 16

// 进度里程碑：校验后 0.10，分块后 0.30，
// 向量化过程 0.30→0.80，写入向量库后 0.90，元数据提交后 1.0
const (
	progressValidated = 0.10
	progressChunked   = 0.30
	progressEmbedded  = 0.80
	progressStored    = 0.90
)

// IngestPipeline 摄取执行器：处理 → 向量化 → 向量库写入 → 元数据提交。
// 在批次与写入检查点响应取消。
type IngestPipeline struct {
	processor   *processor.Processor
	embedder    embedding.Embedder
	store       repository.VectorStore
	collections repository.CollectionRepository
	uow         repository.KnowledgeUnitOfWork
	dim         int
	backoff     util.BackoffPolicy
}

func NewIngestPipeline(
	proc *processor.Processor,
	embedder embedding.Embedder,
	store repository.VectorStore,
	collections repository.CollectionRepository,
	uow repository.KnowledgeUnitOfWork,
	conf *config.Config,
) *IngestPipeline {
	return &IngestPipeline{
		processor:   proc,
		embedder:    embedder,
		store:       store,
		collections: collections,
		uow:         uow,
		dim:         conf.EmbeddingConfig.Dimensions,
		backoff:     util.DefaultBackoff(conf.EmbeddingConfig.RetryTimes),
	}
}

var _ queue.Runner = (*IngestPipeline)(nil)

func (p *IngestPipeline) Run(ctx context.Context, task kb.ProcessingTask, progress func(float64)) (queue.RunResult, error) {
	col, err := p.collections.GetByID(ctx, task.CollectionID)
	if err != nil {
		return queue.RunResult{}, err
	}
	if col == nil {
		return queue.RunResult{}, xerr.New(xerr.CollectionNotFound, fmt.Sprintf("collection %s not found", task.CollectionID))
	}
	progress(progressValidated)

	docID := util.GenerateUUID()
	chunks, warnings, err := p.processor.Process(ctx, processor.ProcessRequest{
		Path:         task.FilePath,
		Filename:     task.Filename,
		DocType:      task.DocType,
		CollectionID: task.CollectionID,
		DocumentID:   docID,
	})
	if err != nil {
		return queue.RunResult{}, err
	}
	progress(progressChunked)

	vectors, err := p.embedChunks(ctx, chunks, progress)
	if err != nil {
		return queue.RunResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return queue.RunResult{}, err
	}
	if err := p.store.CreateCollection(ctx, col.Id); err != nil {
		return queue.RunResult{}, err
	}
	if err := p.store.AddChunks(ctx, col.Id, chunks, vectors); err != nil {
		return queue.RunResult{}, err
	}
	progress(progressStored)

	fileSize := int64(0)
	if info, statErr := os.Stat(task.FilePath); statErr == nil {
		fileSize = info.Size()
	}
	now := time.Now()
	doc := &kb.Document{
		Id:           docID,
		CollectionId: col.Id,
		Filename:     task.Filename,
		DocType:      task.DocType,
		FileSize:     fileSize,
		ChunkCount:   len(chunks),
		ProcessedAt:  now,
		CreatedAt:    now,
	}
	if err := p.uow.CommitIngest(ctx, doc); err != nil {
		// 元数据提交失败时回滚已写入的向量，避免孤儿 chunk
		if delErr := p.store.DeleteChunks(context.WithoutCancel(ctx), col.Id, docID); delErr != nil {
			zlog.Error("orphan chunk rollback failed",
				zap.String("collectionId", col.Id),
				zap.String("documentId", docID),
				zap.Error(delErr))
		}
		return queue.RunResult{}, err
	}

	return queue.RunResult{DocumentID: docID, ChunkCount: len(chunks), Warnings: warnings}, nil
}

// embedChunks 按批向量化，失败批次按退避策略重试
func (p *IngestPipeline) embedChunks(ctx context.Context, chunks []kb.DocumentChunk, progress func(float64)) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		var batch [][]float64
		err := util.Retry(ctx, p.backoff, func(ctx context.Context) error {
			var embedErr error
			batch, embedErr = p.embedder.EmbedStrings(ctx, texts)
			return embedErr
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("embedding failed: %s", util.ScrubErrMsg(err.Error())))
		}
		if len(batch) != len(texts) {
			return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("embedding returned %d vectors for %d texts", len(batch), len(texts)))
		}
		for _, vec := range batch {
			if p.dim > 0 && len(vec) != p.dim {
				return nil, xerr.New(xerr.EmbeddingAPI, fmt.Sprintf("embedding dim %d does not match configured %d", len(vec), p.dim))
			}
			v32 := make([]float32, len(vec))
			for i, f := range vec {
				v32[i] = float32(f)
			}
			vectors = append(vectors, v32)
		}

		frac := float64(end) / float64(len(chunks))
		progress(progressChunked + (progressEmbedded-progressChunked)*frac)
	}
	return vectors, nil
}
