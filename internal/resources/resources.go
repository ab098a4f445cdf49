// Package resources declares the health-tracking collections and their sync
// policies.
package resources

import (
	"context"
	"fmt"
	"time"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/queue"
	"healthtrack/syncd/internal/remote"
	"healthtrack/syncd/internal/syncer"
)

const (
	Symptoms    = "symptoms"
	Medications = "medications"
	Vitals      = "vitals"
	Periods     = "periods"
	Timeline    = "timeline"
)

// Registry returns the sync policy for every health collection. Medications
// are deactivated rather than deleted so adherence history stays intact.
// Symptoms, vitals and periods write a timeline event after creation.
func Registry(store remote.Store) *syncer.Registry {
	timeline := &timelineHandler{store: store, now: time.Now}
	return syncer.NewRegistry(
		syncer.Resource{Name: Symptoms, Handler: timeline},
		syncer.Resource{Name: Vitals, Handler: timeline},
		syncer.Resource{Name: Periods, Handler: timeline},
		syncer.Resource{
			Name:       Medications,
			SoftDelete: &syncer.SoftDelete{Field: "isActive", Value: false},
		},
		syncer.Resource{Name: Timeline},
	)
}

type timelineHandler struct {
	store remote.Store
	now   func() time.Time
}

func (h *timelineHandler) AfterCreate(ctx context.Context, op queue.Operation, id string) error {
	event := document.Doc{
		"resource":   op.Resource,
		"recordId":   id,
		"summary":    summarize(op.Resource, op.Payload),
		"occurredAt": occurredAt(op),
		"createdAt":  h.now(),
	}
	if _, err := h.store.Create(ctx, Timeline, event); err != nil {
		return fmt.Errorf("timeline event for %s/%s: %w", op.Resource, id, err)
	}
	return nil
}

func summarize(resource string, payload document.Doc) string {
	switch resource {
	case Symptoms:
		if kind, ok := payload["type"].(string); ok && kind != "" {
			if severity, ok := payload["severity"]; ok {
				return fmt.Sprintf("Logged %s (severity %v)", kind, severity)
			}
			return "Logged " + kind
		}
		return "Logged a symptom"
	case Vitals:
		return "Recorded vitals"
	case Periods:
		return "Logged period"
	default:
		return "Added " + resource
	}
}

// occurredAt prefers the time the user reported over the time it was queued.
func occurredAt(op queue.Operation) time.Time {
	for _, key := range []string{"recordedAt", "loggedAt", "startDate", "date"} {
		if t, ok := op.Payload[key].(time.Time); ok {
			return t
		}
	}
	return op.EnqueuedAt
}
