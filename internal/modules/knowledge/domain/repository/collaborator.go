package repository

import "context"

// RerankScore 重排服务对单个候选的打分，Index 对应请求中 documents 的下标
type RerankScore struct {
	Index int
	Score float64
}

// Reranker 外部重排服务
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RerankScore, error)
}

// PageRenderer 将 PDF 渲染为逐页图片，供 OCR 回退使用（外部协作方）
type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath string) ([][]byte, error)
}

// VisionExtractor 从单页图片中抽取文本（外部协作方）
type VisionExtractor interface {
	ExtractText(ctx context.Context, pageImage []byte) (string, error)
}
