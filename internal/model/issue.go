// Package model 包含了应用的数据模型定义。
package model

import "time"

// Issue 对应于数据库中的 'issues' 表，记录每一次被分类的客户提问。
// 记录只增不删；仅当关联的未知问题被人工归类时才会被更新。
type Issue struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"index;not null" json:"userId"`
	Query  string `gorm:"type:text;not null" json:"query"`
	// Response 在未回答状态下为空字符串，人工归类后写入。
	Response string `gorm:"type:text" json:"response"`
	// ProductCode 指向 products 表；分类置信度不足且尚未人工归类时为 NULL。
	ProductCode *uint  `gorm:"index" json:"productCode"`
	ProductName string `gorm:"type:varchar(100)" json:"productName"`
	// ConfidenceScore 为分类器给出的置信度，取值 [0,1]；
	// 人工归类产生的记录没有置信度，为 NULL。
	ConfidenceScore *float64  `json:"confidenceScore"`
	IsUnanswered    bool      `gorm:"not null;default:false" json:"isUnanswered"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Issue) TableName() string {
	return "issues"
}
