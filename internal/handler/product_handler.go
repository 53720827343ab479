package handler

import (
	"net/http"

	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ProductHandler 负责处理产品目录相关的 API 请求。
type ProductHandler struct {
	productService service.ProductService
}

// NewProductHandler 创建一个新的 ProductHandler 实例。
func NewProductHandler(productService service.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

// ListProducts 返回完整的产品目录，前端下拉框与分类标签全集都来自这里。
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.productService.ListProducts(c.Request.Context())
	if err != nil {
		log.Errorf("ListProducts: 查询失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询产品目录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": products})
}
