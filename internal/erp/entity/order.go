package entity

import (
	"time"
)

// OrderStatus 订单状态
const (
	OrderStatusPending      = "pending"
	OrderStatusInProduction = "in_production"
	OrderStatusCompleted    = "completed"
	OrderStatusCancelled    = "cancelled"
)

// OrderPriority 订单优先级
const (
	PriorityNormal   = 0
	PriorityUrgent   = 1
	PriorityCritical = 2
)

// Order 客户订单
type Order struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:36"`
	OrderCode          string     `json:"order_code" gorm:"size:50;not null;uniqueIndex"`
	CustomerName       string     `json:"customer_name" gorm:"size:200;not null"`
	DeliveryDate       *time.Time `json:"delivery_date"`
	Priority           int        `json:"priority" gorm:"default:0"`
	Status             string     `json:"status" gorm:"size:20;not null;default:pending;index"`
	AssignedOperatorID string     `json:"assigned_operator_id" gorm:"size:64"`
	ApprovedBy         string     `json:"approved_by" gorm:"size:64"`
	ApprovedAt         *time.Time `json:"approved_at"`
	Notes              string     `json:"notes" gorm:"type:text"`
	CreatedBy          string     `json:"created_by" gorm:"size:64"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string {
	return "erp_orders"
}

// OrderItem 订单明细
type OrderItem struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	OrderID   string    `json:"order_id" gorm:"size:36;not null;index"`
	ProductID string    `json:"product_id" gorm:"size:36;not null"`
	Quantity  float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	CreatedAt time.Time `json:"created_at"`

	Product *StockItem `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

func (OrderItem) TableName() string {
	return "erp_order_items"
}
