package feishu

// =============================================================================
// 数据模型：自定义机器人消息与交互式卡片
// =============================================================================

// BotResponse 自定义机器人通用响应
type BotResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// botMessage 自定义机器人消息体
type botMessage struct {
	Timestamp string           `json:"timestamp,omitempty"`
	Sign      string           `json:"sign,omitempty"`
	MsgType   string           `json:"msg_type"`
	Content   *textContent     `json:"content,omitempty"`
	Card      *InteractiveCard `json:"card,omitempty"`
}

type textContent struct {
	Text string `json:"text"`
}

// InteractiveCard 交互式消息卡片
type InteractiveCard struct {
	Config   *CardConfig   `json:"config,omitempty"`
	Header   *CardHeader   `json:"header,omitempty"`
	Elements []CardElement `json:"elements"`
}

// CardConfig 卡片配置
type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

// CardHeader 卡片标题
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template,omitempty"` // blue/red/orange/green
}

// CardText 卡片文本
type CardText struct {
	Tag     string `json:"tag"` // plain_text / lark_md
	Content string `json:"content"`
}

// CardElement 卡片元素
type CardElement struct {
	Tag      string        `json:"tag"`
	Text     *CardText     `json:"text,omitempty"`
	Content  string        `json:"content,omitempty"`
	Fields   []CardField   `json:"fields,omitempty"`
	Elements []CardElement `json:"elements,omitempty"`
}

// CardField 卡片字段
type CardField struct {
	IsShort bool     `json:"is_short"`
	Text    CardText `json:"text"`
}
