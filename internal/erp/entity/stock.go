package entity

import (
	"time"
)

// MaterialType 物料类型
const (
	MaterialTypeRaw      = "raw"      // 原材料
	MaterialTypeSemi     = "semi"     // 半成品
	MaterialTypeFinished = "finished" // 成品
)

// MovementType 库存流水类型
const (
	MovementReserve       = "RESERVE"        // 预留
	MovementRelease       = "RELEASE"        // 释放预留
	MovementProductionOut = "PRODUCTION_OUT" // 生产消耗
	MovementProductionIn  = "PRODUCTION_IN"  // 生产入库
	MovementAdjust        = "ADJUST"         // 库存调整
)

// ReferenceType 流水关联单据类型
const (
	RefOrder  = "ORDER"
	RefPlan   = "PLAN"
	RefLog    = "LOG"
	RefManual = "MANUAL"
)

// StockItem 库存物料（原材料/半成品/成品）
type StockItem struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	MaterialType     string    `json:"material_type" gorm:"size:16;not null;index"`
	Code             string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name             string    `json:"name" gorm:"size:128;not null"`
	Barcode          string    `json:"barcode" gorm:"size:64;index"`
	Unit             string    `json:"unit" gorm:"size:20;not null;default:pcs"`
	Quantity         float64   `json:"quantity" gorm:"type:decimal(12,4);not null;default:0"`
	ReservedQuantity float64   `json:"reserved_quantity" gorm:"type:decimal(12,4);not null;default:0"`
	CriticalLevel    float64   `json:"critical_level" gorm:"type:decimal(12,4);default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (StockItem) TableName() string {
	return "erp_stock_items"
}

// Available 可用数量 = 在库 - 预留
func (s StockItem) Available() float64 {
	return s.Quantity - s.ReservedQuantity
}

// Identifier 生产扫码标识：优先条码，否则编码
func (s StockItem) Identifier() string {
	if s.Barcode != "" {
		return s.Barcode
	}
	return s.Code
}

// StockMovement 库存流水
type StockMovement struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	MaterialID    string    `json:"material_id" gorm:"size:36;not null;index"`
	MaterialType  string    `json:"material_type" gorm:"size:16;not null"`
	MaterialCode  string    `json:"material_code" gorm:"size:64"`
	MovementType  string    `json:"movement_type" gorm:"size:20;not null"`
	Quantity      float64   `json:"quantity" gorm:"type:decimal(12,4);not null"` // 正=增加，负=减少
	ReferenceType string    `json:"reference_type" gorm:"size:20;not null;index:idx_erp_movements_ref"`
	ReferenceID   string    `json:"reference_id" gorm:"size:36;not null;index:idx_erp_movements_ref"`
	Notes         string    `json:"notes" gorm:"type:text"`
	CreatedBy     string    `json:"created_by" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at"`
}

func (StockMovement) TableName() string {
	return "erp_stock_movements"
}
