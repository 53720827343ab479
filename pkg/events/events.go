// Package events defines the structure for events that are sent to Kafka.
package events

import "time"

// 事件类型常量。
const (
	TypeClassified = "classified" // 一次分类调用完成（无论是否进入复核队列）
	TypeResolved   = "resolved"   // 一条未知问题被管理员归类
)

// TriageEvent represents one state change in the triage flow. Events are
// published after the database write succeeds and feed the analytics index.
type TriageEvent struct {
	Type           string    `json:"type"`
	IssueID        uint      `json:"issue_id"`
	UnknownQueryID uint      `json:"unknown_query_id,omitempty"`
	UserID         uint      `json:"user_id"`
	Query          string    `json:"query"`
	Response       string    `json:"response,omitempty"`
	ProductCode    *uint     `json:"product_code,omitempty"`
	ProductName    string    `json:"product_name,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`
	Unanswered     bool      `json:"unanswered"`
	OccurredAt     time.Time `json:"occurred_at"`
}
