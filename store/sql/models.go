package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookLogRecord struct {
	bun.BaseModel `bun:"table:webhook_logs,alias:wl"`

	ID           string         `bun:"id,pk"`
	Provider     string         `bun:"provider,notnull"`
	Event        string         `bun:"event,notnull"`
	Status       string         `bun:"status,notnull"`
	Payload      map[string]any `bun:"payload,type:jsonb,notnull"`
	ErrorMessage string         `bun:"error_message,notnull"`
	ErrorCode    string         `bun:"error_code,notnull"`
	Attempt      int            `bun:"attempt,notnull"`
	ExternalID   *string        `bun:"external_id"`
	AttemptKey   *string        `bun:"attempt_key"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type notificationDispatchRecord struct {
	bun.BaseModel `bun:"table:webhook_notification_dispatches,alias:wnd"`

	ID           string         `bun:"id,pk"`
	Provider     string         `bun:"provider,notnull"`
	Event        string         `bun:"event,notnull"`
	Channel      string         `bun:"channel,notnull"`
	Status       string         `bun:"status,notnull"`
	Recipients   []string       `bun:"recipients,type:jsonb,notnull"`
	FailureCount int            `bun:"failure_count,notnull"`
	Error        string         `bun:"error,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
