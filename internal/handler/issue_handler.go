// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/repository"
	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IssueHandler 负责处理分诊相关的 API 请求。
type IssueHandler struct {
	triageService service.TriageService
}

// NewIssueHandler 创建一个新的 IssueHandler 实例。
func NewIssueHandler(triageService service.TriageService) *IssueHandler {
	return &IssueHandler{triageService: triageService}
}

// ClassifyRequest 定义了分类 API 的请求体结构。
type ClassifyRequest struct {
	Query string `json:"query" binding:"required"`
}

// Classify 处理客户提问的分类请求。
// 面向客户的接口：内部错误细节不外泄，统一降级为通用提示。
func (h *IssueHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：问题内容不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	result, err := h.triageService.Classify(c.Request.Context(), req.Query, user)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    http.StatusBadRequest,
				"message": "问题内容不能为空",
			})
		default:
			// 分类服务不可用等内部错误，对客户只展示通用提示
			log.Errorf("Classify: 分类请求处理失败, user_id: %d, error: %v", user.ID, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    http.StatusServiceUnavailable,
				"message": "暂时无法处理您的问题，请稍后重试",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// SearchIssues 处理问题日志的检索请求。
// query/user_id/product_code 三个过滤参数缺省或为 0 时表示不过滤该维度。
func (h *IssueHandler) SearchIssues(c *gin.Context) {
	filter := repository.IssueFilter{}

	if q := c.Query("query"); q != "" {
		filter.Query = &q
	}
	// 查询串里的 0 沿用前端"未选择"的约定，映射为"不过滤"
	if v := c.Query("user_id"); v != "" && v != "0" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的 user_id"})
			return
		}
		uid := uint(id)
		filter.UserID = &uid
	}
	if v := c.Query("product_code"); v != "" && v != "0" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的 product_code"})
			return
		}
		pc := uint(id)
		filter.ProductCode = &pc
	}

	issues, err := h.triageService.SearchIssues(c.Request.Context(), filter)
	if err != nil {
		log.Errorf("SearchIssues: 检索失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索问题日志失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": issues})
}

// ListUnknownQueries 处理复核队列的查询请求（仅管理员）。
func (h *IssueHandler) ListUnknownQueries(c *gin.Context) {
	// 缺省只看待复核的任务
	resolved := false
	if v := c.Query("resolved"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的 resolved 参数"})
			return
		}
		resolved = parsed
	}

	list, err := h.triageService.ListUnknownQueries(c.Request.Context(), resolved)
	if err != nil {
		log.Errorf("ListUnknownQueries: 查询失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询复核队列失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": list})
}

// ResolveRequest 定义了归类 API 的请求体结构。
type ResolveRequest struct {
	AdminResponse string `json:"admin_response" binding:"required"`
}

// ResolveUnknownQuery 处理管理员归类请求（仅管理员）。
// 面向管理员的接口可以直接暴露错误分类。
func (h *IssueHandler) ResolveUnknownQuery(c *gin.Context) {
	idParam, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "非法的复核任务 ID"})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "归类回复不能为空"})
		return
	}

	uq, err := h.triageService.Resolve(c.Request.Context(), uint(idParam), req.AdminResponse)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "归类回复不能为空"})
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "复核任务不存在"})
		case errors.Is(err, service.ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "该任务已被归类"})
		case errors.Is(err, service.ErrStoreCorrupted):
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "存储一致性异常，请联系运维排查"})
		default:
			log.Errorf("ResolveUnknownQuery: 归类失败, id: %d, error: %v", idParam, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "归类失败"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Query resolved successfully", "data": uq})
}

// Retrain 处理模型重训练请求（仅管理员）。
func (h *IssueHandler) Retrain(c *gin.Context) {
	outcome, err := h.triageService.Retrain(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRetrainInProgress):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "已有一次重训练正在执行"})
		case errors.Is(err, service.ErrRetrainFailed):
			log.Errorf("Retrain: 重训练失败, error: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "重训练失败，之前的模型版本保持有效"})
		default:
			log.Errorf("Retrain: 重训练请求处理失败, error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重训练请求处理失败"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": outcome.Message, "data": outcome})
}

// ListModelVersions 返回历次重训练产生的模型版本（仅管理员）。
func (h *IssueHandler) ListModelVersions(c *gin.Context) {
	items, err := h.triageService.ListModelVersions(c.Request.Context())
	if err != nil {
		log.Errorf("ListModelVersions: 查询失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询模型版本失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": items})
}

// currentUser 从上下文取出 AuthMiddleware 写入的用户对象。
func currentUser(c *gin.Context) *model.User {
	value, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return nil
	}
	user, ok := value.(*model.User)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "用户数据类型错误"})
		return nil
	}
	return user
}
