// Package model 包含了应用的数据模型定义。
package model

import "time"

// UnknownQuery 对应于数据库中的 'unknown_queries' 表。
// 每条记录是一项人工复核任务，与产生它的 Issue 一一对应，
// 并与该 Issue 在同一事务中创建。已归类的记录保留作训练与审计历史，不做物理删除。
type UnknownQuery struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	IssueID uint `gorm:"uniqueIndex;not null" json:"issueId"`
	// Query 是问题文本的冗余副本，复核列表无需回查 issues 表。
	Query    string `gorm:"type:text;not null" json:"query"`
	UserID   uint   `gorm:"index;not null" json:"userId"`
	Resolved bool   `gorm:"not null;default:false;index" json:"resolved"`
	// AdminResponse 在管理员归类时写入，未归类前为 NULL。
	AdminResponse *string    `gorm:"type:text" json:"adminResponse"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ResolvedAt    *time.Time `gorm:"default:null" json:"resolvedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UnknownQuery) TableName() string {
	return "unknown_queries"
}
