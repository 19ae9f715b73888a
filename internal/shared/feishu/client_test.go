package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBotClientSendCard(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL, "s3cret", time.Second)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	card := NewAlertCard("库存一致性告警", "critical", "movement mismatch", map[string]string{"plan": "p-1"})
	if err := c.SendCard(context.Background(), card); err != nil {
		t.Fatalf("SendCard failed: %v", err)
	}
	if got["msg_type"] != "interactive" {
		t.Errorf("Expected msg_type interactive, got %v", got["msg_type"])
	}
	if got["timestamp"] != "1700000000" {
		t.Errorf("Expected timestamp, got %v", got["timestamp"])
	}
	if got["sign"] != c.sign("1700000000") {
		t.Errorf("Unexpected sign %v", got["sign"])
	}
	header := got["card"].(map[string]interface{})["header"].(map[string]interface{})
	if header["template"] != "red" {
		t.Errorf("Expected red template, got %v", header["template"])
	}
}

func TestBotClientErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL, "", time.Second)
	if err := c.SendText(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error for non-zero code")
	}
}

func TestNilBotClientIsNoop(t *testing.T) {
	c := NewBotClient("", "", 0)
	if c != nil {
		t.Fatal("Expected nil client for empty webhook")
	}
	if err := c.SendText(context.Background(), "ignored"); err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
}
