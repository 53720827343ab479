// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"helpdesk-smart-go/internal/model"

	"gorm.io/gorm"
)

// ProductRepository 接口定义了产品目录的只读访问与种子写入。
// 目录数据由外部系统维护，本服务只在启动时补种缺失的条目。
type ProductRepository interface {
	Create(product *model.Product) error
	FindAll() ([]model.Product, error)
	FindByID(id uint) (*model.Product, error)
	FindByName(name string) (*model.Product, error)
}

// productRepository 是 ProductRepository 接口的 GORM 实现。
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建一个新的 ProductRepository 实例。
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create 在数据库中创建一个新的产品记录。
func (r *productRepository) Create(product *model.Product) error {
	return r.db.Create(product).Error
}

// FindAll 检索完整的产品目录。
func (r *productRepository) FindAll() ([]model.Product, error) {
	var products []model.Product
	err := r.db.Order("id").Find(&products).Error
	return products, err
}

// FindByID 根据产品编码查找产品。
func (r *productRepository) FindByID(id uint) (*model.Product, error) {
	var product model.Product
	err := r.db.First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByName 根据产品名查找产品。
func (r *productRepository) FindByName(name string) (*model.Product, error) {
	var product model.Product
	err := r.db.Where("name = ?", name).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}
