// Package model 包含了应用的数据模型定义。
package model

import "time"

// ModelVersion 对应于数据库中的 'model_versions' 表。
// 每次重训练成功都会产生一条新记录；记录创建后不可变，
// 模型产物以 ArtifactObject 指向的对象存储路径留存，按版本可回溯。
type ModelVersion struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Version      string `gorm:"type:varchar(64);uniqueIndex;not null" json:"version"`
	TrainedCount int    `gorm:"not null" json:"trainedCount"`
	// ArtifactObject 是 MinIO 中模型产物的对象名，例如 models/v20240101-120000.bin。
	ArtifactObject string    `gorm:"type:varchar(255)" json:"artifactObject"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ModelVersion) TableName() string {
	return "model_versions"
}
