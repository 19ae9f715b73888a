package service

import (
	"context"
	"fmt"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BOMSnapshotService 计划BOM快照
type BOMSnapshotService struct {
	repo *repository.BOMRepository
}

func NewBOMSnapshotService(repo *repository.BOMRepository) *BOMSnapshotService {
	return &BOMSnapshotService{repo: repo}
}

func (s *BOMSnapshotService) bomRepo(tx *gorm.DB) *repository.BOMRepository {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// Snapshot 为计划固化当前BOM；已存在快照时原样返回
// 产品没有BOM时返回 BOMMissing
func (s *BOMSnapshotService) Snapshot(ctx context.Context, tx *gorm.DB, planID, productID string) ([]entity.BOMSnapshotLine, error) {
	repo := s.bomRepo(tx)

	exists, err := repo.SnapshotExists(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("检查BOM快照失败: %w", err)
	}
	if exists {
		return repo.ListSnapshot(ctx, planID)
	}

	items, err := repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("读取BOM失败: %w", err)
	}
	if len(items) == 0 {
		return nil, newError(KindBOMMissing, "产品没有BOM: %s", productID)
	}

	lines := make([]entity.BOMSnapshotLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Material == nil {
			return nil, newError(KindValidation, "BOM引用的物料不存在: %s", item.MaterialID)
		}
		if item.QuantityNeeded <= 0 {
			continue
		}
		// 同一物料出现多行时合并用量
		if i, ok := index[item.MaterialID]; ok {
			lines[i].QuantityNeeded = round4(lines[i].QuantityNeeded + item.QuantityNeeded)
			continue
		}
		index[item.MaterialID] = len(lines)
		lines = append(lines, entity.BOMSnapshotLine{
			ID:             uuid.New().String(),
			PlanID:         planID,
			MaterialType:   item.MaterialType,
			MaterialID:     item.MaterialID,
			MaterialCode:   item.Material.Code,
			MaterialName:   item.Material.Name,
			QuantityNeeded: round4(item.QuantityNeeded),
		})
	}
	if len(lines) == 0 {
		return nil, newError(KindBOMMissing, "产品BOM没有有效用量: %s", productID)
	}

	if err := repo.CreateSnapshot(ctx, lines); err != nil {
		return nil, fmt.Errorf("保存BOM快照失败: %w", err)
	}
	return lines, nil
}

// Lines 读取计划快照
func (s *BOMSnapshotService) Lines(ctx context.Context, tx *gorm.DB, planID string) ([]entity.BOMSnapshotLine, error) {
	return s.bomRepo(tx).ListSnapshot(ctx, planID)
}

// Requirements 按产品汇总当前BOM的单位用量，用于审批前预检
func (s *BOMSnapshotService) Requirements(ctx context.Context, productIDs []string) (map[string][]entity.BOMItem, error) {
	items, err := s.repo.ListByProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("读取BOM失败: %w", err)
	}
	out := make(map[string][]entity.BOMItem, len(productIDs))
	for _, it := range items {
		if it.QuantityNeeded <= 0 {
			continue
		}
		out[it.ProductID] = append(out[it.ProductID], it)
	}
	return out, nil
}
