package service

import (
	"context"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/shared/feishu"
)

// Alerter 运维告警
type Alerter interface {
	Alert(ctx context.Context, title, severity, summary string, fields map[string]string) error
}

// FeishuAlerter 通过飞书群机器人推送告警卡片，client为nil时不发送
type FeishuAlerter struct {
	client *feishu.BotClient
}

func NewFeishuAlerter(client *feishu.BotClient) *FeishuAlerter {
	return &FeishuAlerter{client: client}
}

func (a *FeishuAlerter) Alert(ctx context.Context, title, severity, summary string, fields map[string]string) error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.SendCard(ctx, feishu.NewAlertCard(title, severity, summary, fields))
}
