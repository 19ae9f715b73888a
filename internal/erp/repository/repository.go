package repository

import "gorm.io/gorm"

// Repositories ERP 履约仓库集合
type Repositories struct {
	db            *gorm.DB
	Stock         *StockRepository
	BOM           *BOMRepository
	Order         *OrderRepository
	Plan          *PlanRepository
	Reservation   *ReservationRepository
	ProductionLog *ProductionLogRepository
	Audit         *AuditRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:            db,
		Stock:         NewStockRepository(db),
		BOM:           NewBOMRepository(db),
		Order:         NewOrderRepository(db),
		Plan:          NewPlanRepository(db),
		Reservation:   NewReservationRepository(db),
		ProductionLog: NewProductionLogRepository(db),
		Audit:         NewAuditRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

// DB 返回底层db用于事务
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
