package models

import "time"

// WebhookLog records one inbound HTTP call from the remote backoffice.
// Rows are append-only; only the retention policy deletes them.
type WebhookLog struct {
	ID           int64     `json:"id"`
	Route        string    `json:"route"`
	Method       string    `json:"method"`
	Body         string    `json:"body"`
	Headers      string    `json:"headers"`
	Action       string    `json:"action"`
	ResponseCode int       `json:"response_code"`
	DateCreated  time.Time `json:"date_created"`
	DateUpdated  time.Time `json:"date_updated"`
}
