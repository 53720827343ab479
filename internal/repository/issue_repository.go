// Package repository 提供了数据访问层的实现。
package repository

import (
	"fmt"

	"helpdesk-smart-go/internal/model"

	"gorm.io/gorm"
)

// IssueFilter 描述问题列表的检索条件。
// 字段为 nil 表示不过滤该维度；显式用指针表达"未设置"，
// 避免把合法的 0 值误当成"全部"。
type IssueFilter struct {
	Query       *string
	UserID      *uint
	ProductCode *uint
}

// IssueRepository 接口定义了问题日志的持久化操作。
type IssueRepository interface {
	// CreateWithUnknownQuery 在同一事务中写入 Issue 以及（可选的）关联的
	// UnknownQuery。unknown 为 nil 时只写入 Issue。两行要么同时存在要么都不存在。
	CreateWithUnknownQuery(issue *model.Issue, unknown *model.UnknownQuery) error
	Search(filter IssueFilter) ([]model.Issue, error)
	FindByID(id uint) (*model.Issue, error)
}

// issueRepository 是 IssueRepository 接口的 GORM 实现。
type issueRepository struct {
	db *gorm.DB
}

// NewIssueRepository 创建一个新的 IssueRepository 实例。
func NewIssueRepository(db *gorm.DB) IssueRepository {
	return &issueRepository{db: db}
}

// CreateWithUnknownQuery 原子地写入问题记录与复核任务。
func (r *issueRepository) CreateWithUnknownQuery(issue *model.Issue, unknown *model.UnknownQuery) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(issue).Error; err != nil {
			return fmt.Errorf("写入问题记录失败: %w", err)
		}
		if unknown != nil {
			unknown.IssueID = issue.ID
			if err := tx.Create(unknown).Error; err != nil {
				return fmt.Errorf("写入复核任务失败: %w", err)
			}
		}
		return nil
	})
}

// Search 按过滤条件检索问题记录，按创建时间倒序排列。
// 以 id 作为第二排序键，保证创建时间相同的记录顺序稳定。
func (r *issueRepository) Search(filter IssueFilter) ([]model.Issue, error) {
	db := r.db.Model(&model.Issue{})

	if filter.Query != nil && *filter.Query != "" {
		db = db.Where("query LIKE ?", "%"+*filter.Query+"%")
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.ProductCode != nil {
		db = db.Where("product_code = ?", *filter.ProductCode)
	}

	var issues []model.Issue
	err := db.Order("created_at DESC").Order("id DESC").Find(&issues).Error
	return issues, err
}

// FindByID 根据 ID 查找问题记录。
func (r *issueRepository) FindByID(id uint) (*model.Issue, error) {
	var issue model.Issue
	err := r.db.First(&issue, id).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}
