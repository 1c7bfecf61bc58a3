package coach

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"risklock/internal/behavior"
	"risklock/internal/risk"
)

const noteTemplate = `
你是一名自营交易公司的风控教练。请根据以下账户的风控指标与行为分析结果，给交易员写一段简短的纪律提醒。

风控状态: {{ .Status }}
- 当日亏损: {{ printf "%.2f" .Metrics.DailyLoss }} / 限额 {{ printf "%.2f" .Metrics.DailyLimit }}
- 剩余缓冲: {{ printf "%.2f" .Metrics.Buffer }} ({{ printf "%.1f" .Metrics.BufferPct }}%)
- 预计触线笔数: {{ .Metrics.TradesToBreach }}
{{- if .Violations }}
违规项:
{{- range .Violations }}
- {{ . }}
{{- end }}
{{- end }}

行为评分: {{ .Score }}/100
行为标记与时段表现：
{{ .BehaviorJSON }}

要求：
1. 使用英文输出，不超过三句话；
2. 只给出可执行的纪律建议，不给出任何开仓、加仓或方向性建议；
3. 若没有任何违规与标记，简短肯定即可。
`

var tmpl = template.Must(template.New("note").Parse(noteTemplate))

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Status       risk.Status
	Violations   []string
	Metrics      risk.Metrics
	Score        int
	BehaviorJSON string
}

// BuildPrompt 将风控报告与行为报告渲染成提示词。
func BuildPrompt(report risk.Report, insights behavior.Report) (string, error) {
	behaviorJSON, err := json.MarshalIndent(struct {
		Flags              []behavior.Flag `json:"flags"`
		SessionPerformance interface{}     `json:"session_performance"`
	}{insights.Flags, insights.SessionPerformance}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("coach: 序列化行为报告失败: %w", err)
	}

	ctx := PromptContext{
		Status:       report.Status,
		Violations:   report.Violations,
		Metrics:      report.Metrics,
		Score:        insights.Score,
		BehaviorJSON: string(behaviorJSON),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("coach: 渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
