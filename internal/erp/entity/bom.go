package entity

import (
	"time"
)

// BOMItem 产品BOM行（实时BOM，可被编辑）
type BOMItem struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	ProductID      string    `json:"product_id" gorm:"size:36;not null;index"`
	MaterialType   string    `json:"material_type" gorm:"size:16;not null"`
	MaterialID     string    `json:"material_id" gorm:"size:36;not null"`
	QuantityNeeded float64   `json:"quantity_needed" gorm:"type:decimal(12,4);not null"` // 单位成品用量
	Unit           string    `json:"unit" gorm:"size:20;not null;default:pcs"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Material *StockItem `json:"material,omitempty" gorm:"foreignKey:MaterialID"`
}

func (BOMItem) TableName() string {
	return "erp_bom_items"
}

// BOMSnapshotLine 计划BOM快照行，创建后不可修改
type BOMSnapshotLine struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	PlanID         string    `json:"plan_id" gorm:"size:36;not null;uniqueIndex:uniq_erp_snapshot_plan_material"`
	MaterialType   string    `json:"material_type" gorm:"size:16;not null"`
	MaterialID     string    `json:"material_id" gorm:"size:36;not null;uniqueIndex:uniq_erp_snapshot_plan_material"`
	MaterialCode   string    `json:"material_code" gorm:"size:64"`
	MaterialName   string    `json:"material_name" gorm:"size:128"`
	QuantityNeeded float64   `json:"quantity_needed" gorm:"type:decimal(12,4);not null"`
	CreatedAt      time.Time `json:"created_at"`
}

func (BOMSnapshotLine) TableName() string {
	return "erp_bom_snapshots"
}
