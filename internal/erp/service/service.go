package service

import (
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/config"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/shared/feishu"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services ERP履约服务集合
type Services struct {
	Stock       *StockLedger
	BOM         *BOMSnapshotService
	Reservation *ReservationService
	Approval    *ApprovalService
	Production  *ProductionService
	Plan        *PlanService
	Order       *OrderService
	Audit       *AuditService
	Notifier    Notifier
	Alerter     Alerter
	Metrics     *Metrics
}

// Deps 可替换的外部依赖，零值使用默认实现
type Deps struct {
	Redis    *redis.Client
	Protocol *consensus.Protocol
	Registry prometheus.Registerer
	Archiver Archiver
	Notifier Notifier
	Locker   Locker
	Alerter  Alerter
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, cfg *config.Config, deps Deps, logger *zap.Logger) *Services {
	db := repos.DB()

	// 初始化MinIO归档
	archiver := deps.Archiver
	if archiver == nil && cfg.MinIO.Endpoint != "" {
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("minio unavailable, audit archive disabled", zap.Error(err))
		} else {
			archiver = NewMinIOArchiver(client, cfg.MinIO.Bucket)
		}
	}

	lockTTL := cfg.Redis.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	notifier := deps.Notifier
	locker := deps.Locker
	if deps.Redis != nil {
		if notifier == nil {
			notifier = NewRedisNotifier(deps.Redis, cfg.Redis.EventChannel)
		}
		if locker == nil {
			locker = NewRedisLocker(deps.Redis, lockTTL)
		}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	alerter := deps.Alerter
	if alerter == nil {
		alerter = NewFeishuAlerter(feishu.NewBotClient(cfg.Alert.FeishuWebhookURL, cfg.Alert.FeishuSecret, cfg.Alert.Timeout))
	}

	metrics := NewMetrics(deps.Registry)
	ledger := NewStockLedger(db, repos.Stock, logger)
	bom := NewBOMSnapshotService(repos.BOM)
	reservations := NewReservationService(repos.Reservation, ledger, logger)
	audit := NewAuditService(repos.Audit, archiver, logger)

	return &Services{
		Stock:       ledger,
		BOM:         bom,
		Reservation: reservations,
		Approval: &ApprovalService{
			db:           db,
			repos:        repos,
			bom:          bom,
			ledger:       ledger,
			reservations: reservations,
			protocol:     deps.Protocol,
			audit:        audit,
			notifier:     notifier,
			locker:       locker,
			lockTTL:      lockTTL,
			metrics:      metrics,
			logger:       logger.Named("approval"),
		},
		Production: &ProductionService{
			db:           db,
			repos:        repos,
			bom:          bom,
			ledger:       ledger,
			reservations: reservations,
			protocol:     deps.Protocol,
			audit:        audit,
			notifier:     notifier,
			alerter:      alerter,
			metrics:      metrics,
			logger:       logger.Named("production"),
		},
		Plan: &PlanService{
			db:           db,
			repos:        repos,
			bom:          bom,
			ledger:       ledger,
			reservations: reservations,
			notifier:     notifier,
			audit:        audit,
			logger:       logger.Named("plan"),
		},
		Order: &OrderService{
			db:           db,
			repos:        repos,
			ledger:       ledger,
			reservations: reservations,
			audit:        audit,
			notifier:     notifier,
			locker:       locker,
			lockTTL:      lockTTL,
			logger:       logger.Named("order"),
		},
		Audit:    audit,
		Notifier: notifier,
		Alerter:  alerter,
		Metrics:  metrics,
	}
}
