package models

import (
	"fmt"
	"time"
)

// Task is one unit of synchronization work in the durable queue. Name is
// the deduplication key: at most one pending row carries a given name,
// later schedules for the same name merge into it.
type Task struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Title          string     `json:"title,omitempty"`
	Type           string     `json:"type"`
	TypeGroup      string     `json:"type_group,omitempty"`
	StorekeeperID  int64      `json:"storekeeper_id,omitempty"`
	Status         string     `json:"status"`
	TimesRan       int64      `json:"times_ran"`
	MetaData       string     `json:"meta_data,omitempty"`
	ExecutionMs    int64      `json:"execution_duration_ms"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	DateCreated    time.Time  `json:"date_created"`
	DateUpdated    time.Time  `json:"date_updated"`
}

// TaskName derives the dedup name for work about one remote subject.
// Subject-less work (full syncs) is keyed by the bare type.
func TaskName(taskType string, storekeeperID int64) string {
	if storekeeperID == 0 {
		return taskType
	}
	return fmt.Sprintf("%s::%d", taskType, storekeeperID)
}

// IsTerminal reports whether the task reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// Meta decodes the task's meta_data column.
func (t *Task) Meta() (MetaData, error) {
	return DecodeMetaData(t.MetaData)
}
