package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/shared/feishu"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (p *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if p.err != nil {
		return minio.UploadInfo{}, p.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.objects == nil {
		p.objects = map[string][]byte{}
	}
	p.objects[bucketName+"/"+objectName] = data
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestAuditRecordArchivesJSON(t *testing.T) {
	f := newFixture(t)
	putter := &fakePutter{}
	audit := NewAuditService(repository.NewAuditRepository(f.db), NewMinIOArchiver(putter, "erp-audit"), zap.NewNop())

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	audit.RecordRejection(context.Background(), managerActor, "approve", "order", "o-1", "o-1", "",
		insufficientStock([]Shortfall{{MaterialID: "m", MaterialCode: "X", Needed: 2, Available: 1, Shortfall: 1}}))

	var rows []entity.AuditLog
	require.NoError(t, f.db.Where("entity_id = ?", "o-1").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "rejected", rows[0].Decision)
	assert.Equal(t, entity.SeverityWarning, rows[0].Severity)
	assert.Equal(t, string(KindInsufficientStock), rows[0].Details["kind"])

	require.Len(t, putter.objects, 1)
	for key, data := range putter.objects {
		assert.True(t, strings.HasPrefix(key, "erp-audit/audit/"))
		var rec entity.AuditLog
		require.NoError(t, json.Unmarshal(data, &rec))
		assert.Equal(t, rows[0].ID, rec.ID)
	}

	// 固定时间的对象路径
	rec := &entity.AuditLog{ID: "fixed", CreatedAt: at, Decision: "approved"}
	require.NoError(t, NewMinIOArchiver(putter, "b").Archive(context.Background(), rec))
	assert.Contains(t, putter.objects, "b/audit/2026/03/01/fixed.json")
}

func TestAuditArchiveFailureDoesNotLoseRecord(t *testing.T) {
	f := newFixture(t)
	audit := NewAuditService(repository.NewAuditRepository(f.db), NewMinIOArchiver(&fakePutter{err: errors.New("bucket gone")}, "erp-audit"), zap.NewNop())

	audit.RecordRejection(context.Background(), managerActor, "log", "plan", "p-1", "", "p-1", newError(KindConsistencyViolation, "mismatch"))

	var rec entity.AuditLog
	require.NoError(t, f.db.Where("entity_id = ?", "p-1").First(&rec).Error)
	assert.Equal(t, entity.SeverityCritical, rec.Severity)
}

func TestFeishuAlerterSendsCard(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	defer srv.Close()

	alerter := NewFeishuAlerter(feishu.NewBotClient(srv.URL, "", time.Second))
	err := alerter.Alert(context.Background(), "库存一致性告警", entity.SeverityCritical, "plan p-1", map[string]string{"plan_id": "p-1"})
	require.NoError(t, err)
	assert.Equal(t, "interactive", got["msg_type"])

	// 未配置webhook时静默
	assert.NoError(t, NewFeishuAlerter(feishu.NewBotClient("", "", time.Second)).Alert(context.Background(), "t", "info", "s", nil))
}
