package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Archiver 审计记录归档
type Archiver interface {
	Archive(ctx context.Context, rec *entity.AuditLog) error
}

// ObjectPutter minio.Client 的子集
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOArchiver 每条审计记录一个JSON对象
type MinIOArchiver struct {
	client ObjectPutter
	bucket string
}

func NewMinIOArchiver(client ObjectPutter, bucket string) *MinIOArchiver {
	return &MinIOArchiver{client: client, bucket: bucket}
}

func (a *MinIOArchiver) Archive(ctx context.Context, rec *entity.AuditLog) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化审计记录失败: %w", err)
	}
	objectName := fmt.Sprintf("audit/%s/%s.json", rec.CreatedAt.Format("2006/01/02"), rec.ID)
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("上传审计记录失败: %w", err)
	}
	return nil
}

// AuditService 审计记录：共识裁决、业务规则拒绝、一致性告警
// 审计失败只记日志，不影响业务结果
type AuditService struct {
	repo     *repository.AuditRepository
	archiver Archiver
	logger   *zap.Logger
}

func NewAuditService(repo *repository.AuditRepository, archiver Archiver, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, archiver: archiver, logger: logger.Named("audit")}
}

// Record 写入审计记录
func (s *AuditService) Record(ctx context.Context, rec *entity.AuditLog) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Severity == "" {
		rec.Severity = entity.SeverityInfo
	}

	fields := []zap.Field{
		zap.String("agent", rec.Agent),
		zap.String("action", rec.Action),
		zap.String("entity_type", rec.EntityType),
		zap.String("entity_id", rec.EntityID),
		zap.String("decision", rec.Decision),
		zap.Strings("errors", rec.Errors),
		zap.Strings("warnings", rec.Warnings),
		zap.String("request_id", rec.RequestID),
	}
	switch rec.Severity {
	case entity.SeverityCritical:
		s.logger.Error("audit", fields...)
	case entity.SeverityWarning:
		s.logger.Warn("audit", fields...)
	default:
		s.logger.Info("audit", fields...)
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("failed to persist audit record", zap.String("id", rec.ID), zap.Error(err))
	}
	if s.archiver != nil {
		actx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.archiver.Archive(actx, rec); err != nil {
			s.logger.Warn("failed to archive audit record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

// RecordConsensus 记录一次共识校验
func (s *AuditService) RecordConsensus(ctx context.Context, actor Actor, req *consensus.Request, res *consensus.Result, verr error) {
	rec := &entity.AuditLog{
		Agent:      "consensus",
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		OrderID:    req.OrderID,
		PlanID:     req.PlanID,
		RequestID:  actor.RequestID,
		CreatedBy:  actor.ID,
		Details:    entity.JSONMap{"domain": req.Domain},
	}
	switch {
	case verr != nil:
		rec.Decision = "unavailable"
		rec.Severity = entity.SeverityWarning
		rec.Errors = entity.StringList{verr.Error()}
	case res != nil:
		rec.Decision = res.Decision
		rec.Errors = res.Errors
		rec.Warnings = res.Warnings
		rec.Details["votes"] = res.Votes
		rec.Details["primary_agent"] = res.PrimaryID
		layers := make([]map[string]interface{}, 0, len(res.Layers))
		for _, l := range res.Layers {
			layers = append(layers, map[string]interface{}{
				"layer":       l.Layer,
				"passed":      l.Passed,
				"duration_ms": l.Duration.Milliseconds(),
			})
		}
		rec.Details["layers"] = layers
		if res.Decision != consensus.VerdictApproved && res.Decision != consensus.VerdictSkipped {
			rec.Severity = entity.SeverityWarning
		}
	}
	s.Record(ctx, rec)
}

// RecordRejection 记录业务规则拒绝
func (s *AuditService) RecordRejection(ctx context.Context, actor Actor, action, entityType, entityID, orderID, planID string, err error) {
	rec := &entity.AuditLog{
		Agent:      "rules",
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OrderID:    orderID,
		PlanID:     planID,
		Decision:   "rejected",
		Severity:   entity.SeverityWarning,
		Errors:     entity.StringList{err.Error()},
		RequestID:  actor.RequestID,
		CreatedBy:  actor.ID,
		Details:    entity.JSONMap{},
	}
	var e *Error
	if errors.As(err, &e) {
		rec.Details["kind"] = string(e.Kind)
		if len(e.Shortfalls) > 0 {
			rec.Details["shortfalls"] = e.Shortfalls
		}
		if e.Kind == KindConsistencyViolation {
			rec.Severity = entity.SeverityCritical
		}
	}
	s.Record(ctx, rec)
}

func (s *AuditService) List(ctx context.Context, params repository.AuditListParams) ([]entity.AuditLog, int64, error) {
	return s.repo.List(ctx, params)
}
