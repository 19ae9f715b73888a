package feishu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// BotClient 飞书自定义机器人（群webhook）
// 用于告警推送，无需应用token
// =============================================================================

// BotClient 飞书群机器人客户端
type BotClient struct {
	webhookURL string       // 机器人webhook地址
	secret     string       // 签名校验密钥，可为空
	httpClient *http.Client // HTTP客户端
	now        func() time.Time
}

// NewBotClient 创建机器人客户端，webhookURL为空时返回nil
func NewBotClient(webhookURL, secret string, timeout time.Duration) *BotClient {
	if webhookURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BotClient{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// SendText 发送文本消息
func (c *BotClient) SendText(ctx context.Context, text string) error {
	return c.send(ctx, &botMessage{MsgType: "text", Content: &textContent{Text: text}})
}

// SendCard 发送交互式卡片
func (c *BotClient) SendCard(ctx context.Context, card InteractiveCard) error {
	return c.send(ctx, &botMessage{MsgType: "interactive", Card: &card})
}

// sign 计算签名：以 timestamp + "\n" + secret 为密钥对空串做HmacSHA256
func (c *BotClient) sign(timestamp string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+c.secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *BotClient) send(ctx context.Context, msg *botMessage) error {
	if c == nil {
		return nil
	}
	if c.secret != "" {
		msg.Timestamp = strconv.FormatInt(c.now().Unix(), 10)
		msg.Sign = c.sign(msg.Timestamp)
	}

	bodyBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化机器人消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("飞书机器人HTTP错误[%d]", resp.StatusCode)
	}

	var result BotResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("飞书机器人错误[%d]: %s", result.Code, result.Msg)
	}
	return nil
}
