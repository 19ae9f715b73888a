package entity

import (
	"time"
)

// PlanStatus 生产计划状态
const (
	PlanStatusPlanned    = "planned"
	PlanStatusInProgress = "in_progress"
	PlanStatusPaused     = "paused"
	PlanStatusCompleted  = "completed"
	PlanStatusCancelled  = "cancelled"
)

// ReservationStatus 物料预留状态
const (
	ReservationActive    = "active"
	ReservationCompleted = "completed"
	ReservationCancelled = "cancelled"
)

// ProductionPlan 生产计划（每个订单每个产品一个）
type ProductionPlan struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:36"`
	PlanCode           string     `json:"plan_code" gorm:"size:50;not null;uniqueIndex"`
	OrderID            string     `json:"order_id" gorm:"size:36;not null;index"`
	ProductID          string     `json:"product_id" gorm:"size:36;not null"`
	PlannedQuantity    float64    `json:"planned_quantity" gorm:"type:decimal(12,4);not null"`
	ProducedQuantity   float64    `json:"produced_quantity" gorm:"type:decimal(12,4);not null;default:0"`
	Status             string     `json:"status" gorm:"size:20;not null;default:planned;index"`
	AssignedOperatorID string     `json:"assigned_operator_id" gorm:"size:64;index"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedBy          string     `json:"created_by" gorm:"size:64"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Product *StockItem `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

func (ProductionPlan) TableName() string {
	return "erp_production_plans"
}

// Remaining 剩余可生产数量
func (p ProductionPlan) Remaining() float64 {
	r := p.PlannedQuantity - p.ProducedQuantity
	if r < 0 {
		return 0
	}
	return r
}

// Reservation 物料预留
type Reservation struct {
	ID               string     `json:"id" gorm:"primaryKey;size:36"`
	OrderID          string     `json:"order_id" gorm:"size:36;not null;index"`
	PlanID           string     `json:"plan_id" gorm:"size:36;not null;index"`
	MaterialType     string     `json:"material_type" gorm:"size:16;not null"`
	MaterialID       string     `json:"material_id" gorm:"size:36;not null;index"`
	MaterialCode     string     `json:"material_code" gorm:"size:64"`
	MaterialName     string     `json:"material_name" gorm:"size:128"`
	ReservedQuantity float64    `json:"reserved_quantity" gorm:"type:decimal(12,4);not null"`
	ConsumedQuantity float64    `json:"consumed_quantity" gorm:"type:decimal(12,4);not null;default:0"`
	Status           string     `json:"status" gorm:"size:20;not null;default:active;index"`
	ClosedAt         *time.Time `json:"closed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Reservation) TableName() string {
	return "erp_material_reservations"
}

// Outstanding 未消耗的预留数量
func (r Reservation) Outstanding() float64 {
	o := r.ReservedQuantity - r.ConsumedQuantity
	if o < 0 {
		return 0
	}
	return o
}

// ProductionLog 生产报工记录（只追加）
type ProductionLog struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	PlanID           string    `json:"plan_id" gorm:"size:36;not null;index"`
	OperatorID       string    `json:"operator_id" gorm:"size:64;not null"`
	BarcodeScanned   string    `json:"barcode_scanned" gorm:"size:64;not null"`
	QuantityProduced float64   `json:"quantity_produced" gorm:"type:decimal(12,4);not null"`
	CreatedAt        time.Time `json:"created_at"`
}

func (ProductionLog) TableName() string {
	return "erp_production_logs"
}
