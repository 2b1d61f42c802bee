package queue

import (
	"context"
	"encoding/json"
	"strconv"

	"storesync/internal/config"
	"storesync/internal/events"
	"storesync/internal/models"

	"github.com/rs/zerolog"
)

// WebhookFanout turns inbound webhook events into queued tasks using the
// action-to-task routing table from config. One webhook call may fan out
// into several tasks; unknown actions are logged and dropped.
type WebhookFanout struct {
	scheduler *Scheduler
	routes    map[string]config.WebhookRoute
	logger    *zerolog.Logger
}

func NewWebhookFanout(scheduler *Scheduler, routes []config.WebhookRoute, logger *zerolog.Logger) *WebhookFanout {
	byAction := make(map[string]config.WebhookRoute, len(routes))
	for _, route := range routes {
		byAction[route.Action] = route
	}
	return &WebhookFanout{scheduler: scheduler, routes: byAction, logger: logger}
}

// Bind subscribes the fanout to webhook events on the bus.
func (f *WebhookFanout) Bind(bus *events.EventBus) {
	bus.Subscribe(events.EventWebhookReceived, f.handle)
}

func (f *WebhookFanout) handle(event *events.Event) error {
	var payload events.WebhookEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		f.logger.Error().Err(err).Msg("decode webhook event")
		return err
	}

	route, ok := f.routes[payload.Action]
	if !ok {
		f.logger.Warn().Str("action", payload.Action).Msg("no route for webhook action")
		return nil
	}

	// The body is opaque to the queue; it is only probed for the remote
	// identifiers the route's tasks are keyed by.
	var body map[string]interface{}
	if payload.Body != "" {
		_ = json.Unmarshal([]byte(payload.Body), &body)
	}

	ctx := context.Background()
	for _, taskCfg := range route.Tasks {
		req := TaskRequest{
			Type:      taskCfg.Type,
			TypeGroup: taskCfg.TypeGroup,
			Title:     taskCfg.Title,
			Meta: models.MetaData{
				"webhook-log-id": payload.LogID,
				"webhook-action": payload.Action,
			},
		}
		if taskCfg.IDField != "" {
			id, ok := extractID(body, taskCfg.IDField)
			if !ok {
				f.logger.Warn().
					Str("action", payload.Action).
					Str("type", taskCfg.Type).
					Str("id_field", taskCfg.IDField).
					Msg("webhook body is missing the id field, task not scheduled")
				continue
			}
			req.StorekeeperID = id
		}

		task, err := f.scheduler.ScheduleTask(ctx, req)
		if err != nil {
			f.logger.Error().Err(err).
				Str("action", payload.Action).
				Str("type", taskCfg.Type).
				Msg("schedule webhook task")
			continue
		}
		f.logger.Info().
			Int64("task_id", task.ID).
			Str("name", task.Name).
			Str("action", payload.Action).
			Msg("webhook fanned out to task")
	}
	return nil
}

func extractID(body map[string]interface{}, field string) (int64, bool) {
	value, ok := body[field]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
