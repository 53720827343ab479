// Package repository 提供了数据访问层的实现。
package repository

import (
	"helpdesk-smart-go/internal/model"

	"gorm.io/gorm"
)

// ModelVersionRepository 接口定义了模型版本记录的持久化操作。
// 版本记录创建后不可变。
type ModelVersionRepository interface {
	Create(version *model.ModelVersion) error
	FindLatest() (*model.ModelVersion, error)
	FindByVersion(version string) (*model.ModelVersion, error)
	FindAll() ([]model.ModelVersion, error)
}

// modelVersionRepository 是 ModelVersionRepository 接口的 GORM 实现。
type modelVersionRepository struct {
	db *gorm.DB
}

// NewModelVersionRepository 创建一个新的 ModelVersionRepository 实例。
func NewModelVersionRepository(db *gorm.DB) ModelVersionRepository {
	return &modelVersionRepository{db: db}
}

// Create 写入一条新的模型版本记录。
func (r *modelVersionRepository) Create(version *model.ModelVersion) error {
	return r.db.Create(version).Error
}

// FindLatest 返回最近一次重训练产生的版本。
func (r *modelVersionRepository) FindLatest() (*model.ModelVersion, error) {
	var mv model.ModelVersion
	err := r.db.Order("id DESC").First(&mv).Error
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// FindByVersion 按版本号查找版本记录。
func (r *modelVersionRepository) FindByVersion(version string) (*model.ModelVersion, error) {
	var mv model.ModelVersion
	err := r.db.Where("version = ?", version).First(&mv).Error
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// FindAll 按时间倒序返回全部版本记录。
func (r *modelVersionRepository) FindAll() ([]model.ModelVersion, error) {
	var list []model.ModelVersion
	err := r.db.Order("id DESC").Find(&list).Error
	return list, err
}
