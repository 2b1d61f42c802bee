package models

import (
	"encoding/json"
	"fmt"
)

// metaDataVersion is the current envelope version written to the store.
const metaDataVersion = 1

// MetaData is the structured task payload. The queue never interprets it
// beyond the error record keys; executors own its meaning.
type MetaData map[string]interface{}

// metaEnvelope wraps MetaData so rows written by older deploys stay
// readable after the format evolves.
type metaEnvelope struct {
	Version int      `json:"v"`
	Data    MetaData `json:"data"`
}

// EncodeMetaData serializes meta data into the versioned envelope.
func EncodeMetaData(meta MetaData) (string, error) {
	if meta == nil {
		meta = MetaData{}
	}
	raw, err := json.Marshal(metaEnvelope{Version: metaDataVersion, Data: meta})
	if err != nil {
		return "", fmt.Errorf("encode meta data: %w", err)
	}
	return string(raw), nil
}

// DecodeMetaData parses a persisted meta_data column. Bare objects with
// no envelope are accepted as version 0 rows.
func DecodeMetaData(raw string) (MetaData, error) {
	if raw == "" {
		return MetaData{}, nil
	}

	var env metaEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Version > 0 {
		if env.Data == nil {
			env.Data = MetaData{}
		}
		return env.Data, nil
	}

	var legacy MetaData
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, fmt.Errorf("decode meta data: %w", err)
	}
	if legacy == nil {
		legacy = MetaData{}
	}
	return legacy, nil
}

func (m MetaData) GetString(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func (m MetaData) GetInt64(key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (m MetaData) GetBool(key string) bool {
	if m == nil {
		return false
	}
	b, ok := m[key].(bool)
	return ok && b
}

// ErrorRecord is the structured failure metadata written into a failed
// task's meta_data. Overwritten on every failed attempt.
type ErrorRecord struct {
	Class     string `json:"exception-class"`
	Message   string `json:"exception-message"`
	Trace     string `json:"exception-trace"`
	Reference string `json:"exception-reference"`
}

// ToMetaData converts the record to meta data ready for persisting.
func (e ErrorRecord) ToMetaData() MetaData {
	return MetaData{
		MetaExceptionClass:     e.Class,
		MetaExceptionMessage:   e.Message,
		MetaExceptionTrace:     e.Trace,
		MetaExceptionReference: e.Reference,
	}
}

// ErrorRecordFromMeta extracts the error record from decoded meta data.
func ErrorRecordFromMeta(meta MetaData) ErrorRecord {
	return ErrorRecord{
		Class:     meta.GetString(MetaExceptionClass),
		Message:   meta.GetString(MetaExceptionMessage),
		Trace:     meta.GetString(MetaExceptionTrace),
		Reference: meta.GetString(MetaExceptionReference),
	}
}
