package entity

import (
	"time"
)

// AuditSeverity 审计级别
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditLog 审计记录：共识裁决与业务规则拒绝
type AuditLog struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	Agent      string     `json:"agent" gorm:"size:64;not null"`
	Action     string     `json:"action" gorm:"size:64;not null"`
	EntityType string     `json:"entity_type" gorm:"size:32"`
	EntityID   string     `json:"entity_id" gorm:"size:36;index"`
	OrderID    string     `json:"order_id" gorm:"size:36;index"`
	PlanID     string     `json:"plan_id" gorm:"size:36;index"`
	Decision   string     `json:"decision" gorm:"size:32;index"`
	Severity   string     `json:"severity" gorm:"size:16;not null;default:info"`
	Errors     StringList `json:"errors" gorm:"type:text"`
	Warnings   StringList `json:"warnings" gorm:"type:text"`
	Details    JSONMap    `json:"details" gorm:"type:text"`
	RequestID  string     `json:"request_id" gorm:"size:64"`
	CreatedBy  string     `json:"created_by" gorm:"size:64"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "erp_audit_logs"
}
