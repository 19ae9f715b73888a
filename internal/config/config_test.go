package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("CONSENSUS_ENABLED", "false")
	t.Setenv("FEISHU_ALERT_WEBHOOK", "https://open.feishu.cn/open-apis/bot/v2/hook/x")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5432 {
		t.Fatalf("Unexpected database config: %+v", cfg.Database)
	}
	if cfg.Redis.Host != "cache.internal" || cfg.Redis.LockTTL != 30*time.Second || cfg.Redis.EventChannel != "erp:events" {
		t.Fatalf("Unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Consensus.Enabled {
		t.Fatalf("Expected consensus disabled by env")
	}
	if cfg.Consensus.Timeout != 3*time.Second || cfg.Consensus.MinConfidence != 0.6 {
		t.Fatalf("Unexpected consensus defaults: %+v", cfg.Consensus)
	}
	if cfg.Alert.FeishuWebhookURL == "" || cfg.Alert.Timeout != 5*time.Second {
		t.Fatalf("Unexpected alert config: %+v", cfg.Alert)
	}
}
