package service

import (
	"context"

	"gorm.io/gorm"
)

// StepHook 事务内各步骤之后调用，返回错误即中止事务
// 仅用于故障注入测试
type StepHook func(ctx context.Context, tx *gorm.DB, step string) error

func runHook(ctx context.Context, hook StepHook, tx *gorm.DB, step string) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, tx, step)
}
