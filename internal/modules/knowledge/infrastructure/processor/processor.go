package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/chunking"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"go.uber.org/zap"
)

// 各文档类型允许的扩展名
var knowledgeExts = map[string]bool{
	".pdf":      true,
	".md":       true,
	".markdown": true,
	".txt":      true,
}

var questionBankExts = map[string]bool{
	".csv": true,
}

// ProcessRequest 一次文档处理请求
type ProcessRequest struct {
	Path         string
	Filename     string // 为空时取 Path 的 base
	DocType      string
	CollectionID string
	DocumentID   string
}

// Processor 将源文件转换为有序的 DocumentChunk 序列。
// 策略由声明的文档类型决定：知识文档走递归切分，题库按行成块。
type Processor struct {
	chunker     *chunking.RecursiveChunker
	maxFileSize int64

	// OCR 回退协作方，未配置时图片型 PDF 仅产生告警
	renderer repository.PageRenderer
	vision   repository.VisionExtractor
}

func NewProcessor(chunker *chunking.RecursiveChunker, maxFileSizeMB int) *Processor {
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 100
	}
	return &Processor{
		chunker:     chunker,
		maxFileSize: int64(maxFileSizeMB) * 1024 * 1024,
	}
}

// WithOCR 注入 OCR 协作方
func (p *Processor) WithOCR(renderer repository.PageRenderer, vision repository.VisionExtractor) *Processor {
	p.renderer = renderer
	p.vision = vision
	return p
}

// ValidateFile 仅做扩展名与大小校验，供提交入口提前拒绝坏输入
func (p *Processor) ValidateFile(path, docType string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch docType {
	case kb.DocTypeKnowledge:
		if !knowledgeExts[ext] {
			return xerr.New(xerr.UnsupportedFormat, fmt.Sprintf("unsupported knowledge document format %q, expected .pdf/.md/.markdown/.txt", ext))
		}
	case kb.DocTypeQuestionBank:
		if !questionBankExts[ext] {
			return xerr.New(xerr.UnsupportedFormat, fmt.Sprintf("unsupported question bank format %q, expected .csv", ext))
		}
	default:
		return xerr.New(xerr.UnsupportedFormat, fmt.Sprintf("unknown document type %q", docType))
	}

	info, err := os.Stat(path)
	if err != nil {
		return xerr.New(xerr.BadRequest, fmt.Sprintf("cannot access file: %v", err))
	}
	if info.Size() > p.maxFileSize {
		return xerr.New(xerr.FileTooLarge, fmt.Sprintf("file size %d bytes exceeds limit %d bytes", info.Size(), p.maxFileSize))
	}
	return nil
}

// Process 按类型选择策略，产出 chunk 序列与非致命告警。
// 相同输入与参数下 chunk 边界与内容确定。
func (p *Processor) Process(ctx context.Context, req ProcessRequest) ([]kb.DocumentChunk, []string, error) {
	if err := p.ValidateFile(req.Path, req.DocType); err != nil {
		return nil, nil, err
	}
	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.Path)
	}

	var (
		chunks   []kb.DocumentChunk
		warnings []string
		err      error
	)
	switch req.DocType {
	case kb.DocTypeQuestionBank:
		chunks, err = p.processQuestionBank(req, filename)
	default:
		chunks, warnings, err = p.processKnowledgeDoc(ctx, req, filename)
	}
	if err != nil {
		return nil, warnings, err
	}
	if len(chunks) == 0 {
		return nil, warnings, xerr.New(xerr.FormatValidation, "no content could be extracted from the document")
	}

	zlog.Info("document processed",
		zap.String("document_id", req.DocumentID),
		zap.String("filename", filename),
		zap.String("doc_type", req.DocType),
		zap.Int("chunks", len(chunks)),
		zap.Int("warnings", len(warnings)),
	)
	return chunks, warnings, nil
}

func (p *Processor) newMetadata(req ProcessRequest, filename string, index int, now time.Time) kb.ChunkMetadata {
	return kb.ChunkMetadata{
		SourceFile:   filename,
		DocType:      req.DocType,
		CollectionID: req.CollectionID,
		ChunkIndex:   index,
		CreatedAt:    now,
	}
}
