package http

import (
	"QuizGazer/internal/modules/knowledge/application/dto/request"
	"QuizGazer/internal/modules/knowledge/application/service"
	"QuizGazer/pkg/back"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// QueryHandler 检索预览与问答 HTTP Handler
type QueryHandler struct {
	querySvc service.QueryService
}

func NewQueryHandler(querySvc service.QueryService) *QueryHandler {
	return &QueryHandler{querySvc: querySvc}
}

// Search 路由: POST /kb/search
//
// 只检索不生成，返回带溯源的知识片段
func (h *QueryHandler) Search(c *gin.Context) {
	var req request.SearchKnowledgeRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.querySvc.SearchKnowledge(c.Request.Context(), req)
	back.Result(c, data, err)
}

// Ask 路由: POST /kb/ask
func (h *QueryHandler) Ask(c *gin.Context) {
	var req request.AskRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.querySvc.Ask(c.Request.Context(), req)
	back.Result(c, data, err)
}

// Status 路由: GET /kb/status
func (h *QueryHandler) Status(c *gin.Context) {
	data, err := h.querySvc.PipelineStatus(c.Request.Context())
	back.Result(c, data, err)
}
