package http

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"QuizGazer/internal/modules/knowledge/application/dto/request"
	"QuizGazer/internal/modules/knowledge/application/dto/respond"
	"QuizGazer/internal/modules/knowledge/application/service"
	"QuizGazer/pkg/back"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// KnowledgeHandler 集合与文档管理 HTTP Handler
type KnowledgeHandler struct {
	knowledgeSvc service.KnowledgeService
	uploadDir    string
}

func NewKnowledgeHandler(knowledgeSvc service.KnowledgeService, uploadDir string) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeSvc: knowledgeSvc, uploadDir: uploadDir}
}

// CreateCollection 路由: POST /kb/collections
func (h *KnowledgeHandler) CreateCollection(c *gin.Context) {
	var req request.CreateCollectionRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.knowledgeSvc.CreateCollection(c.Request.Context(), req)
	back.Result(c, data, err)
}

// ListCollections 路由: GET /kb/collections
func (h *KnowledgeHandler) ListCollections(c *gin.Context) {
	data, err := h.knowledgeSvc.ListCollections(c.Request.Context())
	back.Result(c, data, err)
}

// GetCollection 路由: GET /kb/collections/:id
func (h *KnowledgeHandler) GetCollection(c *gin.Context) {
	data, err := h.knowledgeSvc.GetCollection(c.Request.Context(), c.Param("id"))
	back.Result(c, data, err)
}

// DeleteCollection 路由: DELETE /kb/collections/:id
func (h *KnowledgeHandler) DeleteCollection(c *gin.Context) {
	err := h.knowledgeSvc.DeleteCollection(c.Request.Context(), c.Param("id"))
	back.Result(c, nil, err)
}

// UploadDocument 路由: POST /kb/collections/:id/documents
//
// multipart 表单：file 为文档本体，doc_type 可选（knowledge | question_bank）
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, "file is required")
		return
	}
	docType := strings.TrimSpace(c.PostForm("doc_type"))

	if err := os.MkdirAll(h.uploadDir, 0o700); err != nil {
		zlog.Error("create upload dir failed", zap.Error(err))
		back.Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
		return
	}
	// 落盘文件名用随机前缀，避免并发上传同名互踩
	savedPath := filepath.Join(h.uploadDir, util.GenerateShortUUID()+"_"+filepath.Base(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, savedPath); err != nil {
		zlog.Error("save uploaded file failed", zap.Error(err))
		back.Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
		return
	}

	data, err := h.knowledgeSvc.AddDocument(c.Request.Context(), c.Param("id"), savedPath, fileHeader.Filename, docType)
	if err != nil {
		_ = os.Remove(savedPath)
	}
	back.Result(c, data, err)
}

// ListDocuments 路由: GET /kb/collections/:id/documents
func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	data, err := h.knowledgeSvc.ListDocuments(c.Request.Context(), c.Param("id"))
	back.Result(c, data, err)
}

// RemoveDocument 路由: DELETE /kb/collections/:id/documents/:docId
func (h *KnowledgeHandler) RemoveDocument(c *gin.Context) {
	err := h.knowledgeSvc.RemoveDocument(c.Request.Context(), c.Param("id"), c.Param("docId"))
	back.Result(c, nil, err)
}

// Stats 路由: GET /kb/stats
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	data, err := h.knowledgeSvc.GetStats(c.Request.Context())
	back.Result(c, data, err)
}

// ExportCollection 路由: GET /kb/collections/:id/export?format=json|csv
func (h *KnowledgeHandler) ExportCollection(c *gin.Context) {
	data, err := h.knowledgeSvc.ExportCollection(c.Request.Context(), c.Param("id"))
	if err != nil || strings.ToLower(c.Query("format")) != "csv" {
		back.Result(c, data, err)
		return
	}
	h.writeExportCSV(c, data)
}

// writeExportCSV 文档清单的 CSV 渲染，一行一个文档
func (h *KnowledgeHandler) writeExportCSV(c *gin.Context, export *respond.CollectionExport) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Name+".csv"))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"filename", "doc_type", "file_size", "chunk_count", "processed_at"})
	for _, d := range export.Documents {
		_ = w.Write([]string{
			d.Filename,
			d.DocType,
			strconv.FormatInt(d.FileSize, 10),
			strconv.Itoa(d.ChunkCount),
			d.ProcessedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}

// ImportCollection 路由: POST /kb/collections/import
func (h *KnowledgeHandler) ImportCollection(c *gin.Context) {
	var body struct {
		Strategy   string                   `json:"strategy"`
		Collection respond.CollectionExport `json:"collection"`
	}
	if err := c.BindJSON(&body); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.knowledgeSvc.ImportCollection(c.Request.Context(), &body.Collection, body.Strategy)
	back.Result(c, data, err)
}
