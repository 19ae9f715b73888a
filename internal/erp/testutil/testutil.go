package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	JWTSecret = "erp-test-jwt-secret"
)

var dbSeq int64

// SetupTestDB creates an isolated in-memory sqlite database with the ERP schema.
// A single connection is used so that every transaction in a test is serialized
// the same way row locks serialize them on postgres.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:erp_test_%d_%d?mode=memory&cache=shared&_busy_timeout=5000",
		time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, roles ...string) string {
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"iss":   "erp",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// ManagerToken returns a token for a default manager
func ManagerToken() string {
	return GenerateTestToken("mgr-001", "Test Manager", "manager")
}

// OperatorToken returns a token for the given operator
func OperatorToken(operatorID string) string {
	return GenerateTestToken(operatorID, "Operator "+operatorID, "operator")
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedStock creates a stock item
func SeedStock(t *testing.T, db *gorm.DB, code, materialType string, quantity float64) *entity.StockItem {
	t.Helper()
	item := &entity.StockItem{
		ID:           uuid.New().String(),
		MaterialType: materialType,
		Code:         code,
		Name:         "Item " + code,
		Unit:         "pcs",
		Quantity:     quantity,
	}
	if materialType == entity.MaterialTypeFinished {
		item.Barcode = "BC-" + code
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed stock item: %v", err)
	}
	return item
}

// SeedBOM adds a BOM line to a product
func SeedBOM(t *testing.T, db *gorm.DB, product, material *entity.StockItem, quantityNeeded float64) *entity.BOMItem {
	t.Helper()
	item := &entity.BOMItem{
		ID:             uuid.New().String(),
		ProductID:      product.ID,
		MaterialType:   material.MaterialType,
		MaterialID:     material.ID,
		QuantityNeeded: quantityNeeded,
		Unit:           "pcs",
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed BOM item: %v", err)
	}
	return item
}

// Line is an order line used by SeedOrder
type Line struct {
	Product  *entity.StockItem
	Quantity float64
}

// SeedOrder creates a pending order with the given lines
func SeedOrder(t *testing.T, db *gorm.DB, operatorID string, lines ...Line) *entity.Order {
	t.Helper()
	id := uuid.New().String()
	order := &entity.Order{
		ID:                 id,
		OrderCode:          "SO-" + id[:8],
		CustomerName:       "Test Customer",
		Status:             entity.OrderStatusPending,
		AssignedOperatorID: operatorID,
		CreatedBy:          "test",
	}
	for _, l := range lines {
		order.Items = append(order.Items, entity.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   id,
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
		})
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}

// ReloadStock reads a stock item back from the database
func ReloadStock(t *testing.T, db *gorm.DB, id string) *entity.StockItem {
	t.Helper()
	var item entity.StockItem
	if err := db.Where("id = ?", id).First(&item).Error; err != nil {
		t.Fatalf("Failed to reload stock item: %v", err)
	}
	return &item
}
