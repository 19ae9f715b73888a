package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移所有ERP履约表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// 基础数据
		&StockItem{},
		&BOMItem{},

		// 订单
		&Order{},
		&OrderItem{},

		// 生产
		&ProductionPlan{},
		&BOMSnapshotLine{},
		&Reservation{},
		&ProductionLog{},

		// 库存流水
		&StockMovement{},

		// 审计
		&AuditLog{},
	); err != nil {
		return err
	}

	// 同一订单同一产品最多一个未取消的计划
	return db.Exec(fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS uniq_erp_plans_order_product_active ON %s (order_id, product_id) WHERE status <> '%s'",
		ProductionPlan{}.TableName(), PlanStatusCancelled,
	)).Error
}

// StringList 以JSON文本存储的字符串列表
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported StringList value %T", value)
}

// JSONMap 以JSON文本存储的对象
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return fmt.Errorf("unsupported JSONMap value %T", value)
}
