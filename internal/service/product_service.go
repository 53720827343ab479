package service

import (
	"context"

	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/repository"
)

// ProductService 接口定义了产品目录的查询操作。
// 产品目录是分类的标签全集，对外只读，维护走数据库初始化。
type ProductService interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// productService 是 ProductService 接口的实现。
type productService struct {
	productRepo repository.ProductRepository
}

// NewProductService 创建一个新的 ProductService 实例。
func NewProductService(productRepo repository.ProductRepository) ProductService {
	return &productService{productRepo: productRepo}
}

// ListProducts 按编号顺序返回完整的产品目录。
func (s *productService) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.productRepo.FindAll()
}
