package models

import "time"

// InboxDailyVolume is one row of the inbox volume mart.
type InboxDailyVolume struct {
	Day                time.Time `json:"day"`
	InboxID            int64     `json:"inbox_id"`
	ConversationsCount int64     `json:"conversations_count"`
	MessagesCount      int64     `json:"messages_count"`
}

// AgentVolume is an aggregated agent ranking row.
type AgentVolume struct {
	UserID             int64 `json:"user_id"`
	TotalMessages      int64 `json:"total_messages"`
	TotalConversations int64 `json:"total_conversations"`
}

// TimeMetrics carries the SLA aggregates of the time-metrics mart.
type TimeMetrics struct {
	AvgFirstResponse *float64 `json:"avg_first_response"`
	P50FirstResponse *float64 `json:"p50_first_response"`
	P90FirstResponse *float64 `json:"p90_first_response"`
	AvgResolution    *float64 `json:"avg_resolution"`
	P50Resolution    *float64 `json:"p50_resolution"`
	AvgReplyTime     *float64 `json:"avg_reply_time"`
}

// BacklogRow is one inbox/status entry of the latest backlog snapshot.
type BacklogRow struct {
	InboxID int64  `json:"inbox_id"`
	Status  string `json:"status"`
	Count   int64  `json:"count"`
}

// BIFilter bounds BI queries by date range and optionally inbox.
type BIFilter struct {
	DateFrom string
	DateTo   string
	InboxID  *int64
}
