package feishu

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// 预设卡片模板：告警通知
// =============================================================================

// NewAlertCard 创建告警卡片
// severity: critical 使用红色，其余使用橙色
// fields: 按key排序展示
func NewAlertCard(title, severity, summary string, fields map[string]string) InteractiveCard {
	template := "orange"
	if severity == "critical" {
		template = "red"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cardFields := make([]CardField, 0, len(keys))
	for _, k := range keys {
		cardFields = append(cardFields, CardField{
			IsShort: true,
			Text:    CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", k, fields[k])},
		})
	}

	elements := []CardElement{
		{Tag: "div", Text: &CardText{Tag: "lark_md", Content: summary}},
	}
	if len(cardFields) > 0 {
		elements = append(elements, CardElement{Tag: "div", Fields: cardFields})
	}
	elements = append(elements,
		CardElement{Tag: "hr"},
		CardElement{
			Tag: "note",
			Elements: []CardElement{
				{Tag: "plain_text", Content: time.Now().Format("2006-01-02 15:04:05")},
			},
		},
	)

	return InteractiveCard{
		Config:   &CardConfig{WideScreenMode: true},
		Header:   &CardHeader{Title: CardText{Tag: "plain_text", Content: title}, Template: template},
		Elements: elements,
	}
}
