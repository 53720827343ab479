// Package model 包含了应用的数据模型定义。
package model

// Product 对应于数据库中的 'products' 表。
// 产品目录是只读参考数据，分类与人工归类都以它为准。
type Product struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Product) TableName() string {
	return "products"
}
