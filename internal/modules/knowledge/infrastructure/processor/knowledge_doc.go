package processor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// 图片型 PDF 判定阈值
const (
	minExtractedChars = 100
	minCharsPerPage   = 50
	shortLineRuneMax  = 3
	shortLineRatioMax = 0.5
)

// processKnowledgeDoc 抽取纯文本后递归切分
func (p *Processor) processKnowledgeDoc(ctx context.Context, req ProcessRequest, filename string) ([]kb.DocumentChunk, []string, error) {
	text, warnings, err := p.extractText(ctx, req.Path)
	if err != nil {
		return nil, warnings, err
	}

	parts, err := p.chunker.Split(ctx, text)
	if err != nil {
		return nil, warnings, fmt.Errorf("split document: %w", err)
	}

	now := time.Now()
	chunks := make([]kb.DocumentChunk, 0, len(parts))
	for _, content := range parts {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, kb.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", req.DocumentID, idx),
			DocumentID: req.DocumentID,
			Content:    content,
			Index:      idx,
			Metadata:   p.newMetadata(req, filename, idx, now),
		})
	}
	return chunks, warnings, nil
}

func (p *Processor) extractText(ctx context.Context, path string) (string, []string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, xerr.New(xerr.BadRequest, fmt.Sprintf("read file: %v", err))
		}
		return string(data), nil, nil
	case ".pdf":
		return p.extractPDF(ctx, path)
	default:
		return "", nil, xerr.New(xerr.UnsupportedFormat, fmt.Sprintf("unsupported extension %q", ext))
	}
}

func (p *Processor) extractPDF(ctx context.Context, path string) (string, []string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, xerr.New(xerr.FormatValidation, fmt.Sprintf("cannot parse pdf: %v", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	pageCount := r.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// 单页抽取失败不致命
			zlog.Warn("pdf page text extraction failed", zap.String("path", path), zap.Int("page", i), zap.Error(err))
			continue
		}
		buf.WriteString(content)
		buf.WriteString("\n")
	}

	text := buf.String()
	if !looksImageDominant(text, pageCount) {
		return text, nil, nil
	}
	return p.extractViaOCR(ctx, path, text)
}

// looksImageDominant 可抽取文本过少或碎片化时认为是扫描件
func looksImageDominant(text string, pages int) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minExtractedChars {
		return true
	}
	if pages > 0 && len(trimmed)/pages < minCharsPerPage {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return false
	}
	short := 0
	for _, line := range lines {
		if len([]rune(strings.TrimSpace(line))) < shortLineRuneMax {
			short++
		}
	}
	return float64(short)/float64(len(lines)) > shortLineRatioMax
}

// extractViaOCR 逐页渲染后交给视觉协作方；单页失败记告警并跳过，
// 整个文档不会因此中断。
func (p *Processor) extractViaOCR(ctx context.Context, path, fallbackText string) (string, []string, error) {
	if p.renderer == nil || p.vision == nil {
		warning := "pdf appears image-dominant but no OCR collaborator is configured; using extractable text only"
		zlog.Warn(warning, zap.String("path", path))
		return fallbackText, []string{warning}, nil
	}

	images, err := p.renderer.RenderPages(ctx, path)
	if err != nil {
		warning := fmt.Sprintf("page rendering for OCR failed: %v; using extractable text only", err)
		zlog.Warn("ocr page rendering failed", zap.String("path", path), zap.Error(err))
		return fallbackText, []string{warning}, nil
	}

	var buf bytes.Buffer
	var warnings []string
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return "", warnings, err
		}
		pageText, err := p.vision.ExtractText(ctx, img)
		if err != nil {
			warning := fmt.Sprintf("OCR failed on page %d: %v", i+1, err)
			zlog.Warn("ocr page failed", zap.String("path", path), zap.Int("page", i+1), zap.Error(err))
			warnings = append(warnings, warning)
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		fmt.Fprintf(&buf, "[Page %d]\n%s\n\n", i+1, pageText)
	}

	if buf.Len() == 0 {
		warnings = append(warnings, "OCR produced no text; using extractable text only")
		return fallbackText, warnings, nil
	}
	return buf.String(), warnings, nil
}
