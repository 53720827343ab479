// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"
	"fmt"
	"time"

	"helpdesk-smart-go/internal/model"

	"gorm.io/gorm"
)

// ErrAlreadyResolved 表示复核任务已被归类，本次归类请求是竞争失败方或重复提交。
var ErrAlreadyResolved = errors.New("unknown query already resolved")

// ErrIssueMissing 表示复核任务对应的问题记录不存在。
// 两者本应在同一事务中创建，出现该错误说明存储层已被破坏，需要人工介入。
var ErrIssueMissing = errors.New("issue row missing for unknown query")

// ResolveUpdate 携带一次人工归类要写入的数据。
type ResolveUpdate struct {
	AdminResponse string
	ProductCode   *uint
	ProductName   string
}

// UnknownQueryRepository 接口定义了复核队列的持久化操作。
type UnknownQueryRepository interface {
	FindByID(id uint) (*model.UnknownQuery, error)
	FindByResolved(resolved bool) ([]model.UnknownQuery, error)
	// FindResolvedWithResponse 返回所有已归类且带有管理员回复的任务，作为训练样本来源。
	FindResolvedWithResponse() ([]model.UnknownQuery, error)
	// Resolve 以 check-and-set 方式将 Pending 任务置为 Resolved，并在同一事务中
	// 把回复与产品编码回写到关联的 Issue。并发归类同一任务时恰有一方成功，
	// 失败方得到 ErrAlreadyResolved。Resolved 是终态，不存在回退转换。
	Resolve(id uint, update ResolveUpdate) (*model.UnknownQuery, error)
}

// unknownQueryRepository 是 UnknownQueryRepository 接口的 GORM 实现。
type unknownQueryRepository struct {
	db *gorm.DB
}

// NewUnknownQueryRepository 创建一个新的 UnknownQueryRepository 实例。
func NewUnknownQueryRepository(db *gorm.DB) UnknownQueryRepository {
	return &unknownQueryRepository{db: db}
}

// FindByID 根据 ID 查找复核任务。
func (r *unknownQueryRepository) FindByID(id uint) (*model.UnknownQuery, error) {
	var uq model.UnknownQuery
	err := r.db.First(&uq, id).Error
	if err != nil {
		return nil, err
	}
	return &uq, nil
}

// FindByResolved 按归类状态检索复核任务，按创建时间倒序排列。
func (r *unknownQueryRepository) FindByResolved(resolved bool) ([]model.UnknownQuery, error) {
	var list []model.UnknownQuery
	err := r.db.Where("resolved = ?", resolved).
		Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}

// FindResolvedWithResponse 检索所有可作为训练样本的已归类任务。
func (r *unknownQueryRepository) FindResolvedWithResponse() ([]model.UnknownQuery, error) {
	var list []model.UnknownQuery
	err := r.db.Where("resolved = ? AND admin_response IS NOT NULL", true).
		Order("id").Find(&list).Error
	return list, err
}

// Resolve 执行归类事务。
func (r *unknownQueryRepository) Resolve(id uint, update ResolveUpdate) (*model.UnknownQuery, error) {
	var uq model.UnknownQuery

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&uq, id).Error; err != nil {
			return err
		}

		// check-and-set：只有条件更新命中才算本次归类成功，
		// 并发提交同一任务时数据库保证恰有一方的 RowsAffected 为 1。
		now := time.Now()
		res := tx.Model(&model.UnknownQuery{}).
			Where("id = ? AND resolved = ?", id, false).
			Updates(map[string]interface{}{
				"resolved":       true,
				"admin_response": update.AdminResponse,
				"resolved_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("更新复核任务失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyResolved
		}

		// 回写关联的 Issue：填入回复与产品编码，并翻转未回答标记。
		// 这是 Issue 从 unanswered 变为 answered 的唯一路径。
		issueUpdates := map[string]interface{}{
			"response":      update.AdminResponse,
			"is_unanswered": false,
		}
		if update.ProductCode != nil {
			issueUpdates["product_code"] = *update.ProductCode
			issueUpdates["product_name"] = update.ProductName
		}
		res = tx.Model(&model.Issue{}).Where("id = ?", uq.IssueID).Updates(issueUpdates)
		if res.Error != nil {
			return fmt.Errorf("回写问题记录失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// 复核任务存在但问题记录缺失，违反了成对写入的约束
			return fmt.Errorf("%w: unknown_query_id=%d, issue_id=%d", ErrIssueMissing, id, uq.IssueID)
		}

		uq.Resolved = true
		uq.AdminResponse = &update.AdminResponse
		uq.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &uq, nil
}
