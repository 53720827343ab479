package handler

import (
	"net/http"
	"strconv"

	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AnalyticsHandler 负责管理侧的分诊事件检索接口。
type AnalyticsHandler struct {
	analyticsService service.AnalyticsService
}

// NewAnalyticsHandler 创建一个新的 AnalyticsHandler 实例。
func NewAnalyticsHandler(analyticsService service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService}
}

// SearchEvents 在分诊事件索引上做全文检索（仅管理员）。
// 支持 q（关键词）、unanswered（只看转人工的事件）和 size 三个查询参数。
func (h *AnalyticsHandler) SearchEvents(c *gin.Context) {
	query := c.Query("q")

	unansweredOnly := false
	if v := c.Query("unanswered"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的 unanswered 参数"})
			return
		}
		unansweredOnly = parsed
	}

	size := 0
	if v := c.Query("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的 size 参数"})
			return
		}
		size = parsed
	}

	hits, err := h.analyticsService.SearchEvents(c.Request.Context(), query, unansweredOnly, size)
	if err != nil {
		log.Errorf("SearchEvents: 检索失败, query: %q, error: %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索分诊事件失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": hits})
}
