package storage

import (
	"errors"
	"time"

	"github.com/cuemby/citypulse/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Alert is an alert-type event awaiting resolution
type Alert struct {
	ID         string         `json:"id"`
	EventID    string         `json:"event_id"`
	Severity   types.Severity `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Location   string         `json:"location,omitempty"`
	IsResolved bool           `json:"is_resolved"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// AlertFromEvent builds an unresolved alert from an alert-type event. The
// alert shares the event's id.
func AlertFromEvent(ev types.Event) Alert {
	return Alert{
		ID:        ev.ID,
		EventID:   ev.ID,
		Severity:  ev.Severity,
		Title:     ev.Title,
		Message:   ev.Description,
		Location:  ev.Location,
		CreatedAt: ev.CreatedAt,
	}
}

// Batch groups records written in one transaction
type Batch struct {
	Events   []types.Event
	Readings []types.SensorReading
}

// Len returns the number of records in the batch
func (b Batch) Len() int {
	return len(b.Events) + len(b.Readings)
}

// EventFilter selects events for ListEvents. Zero fields match everything;
// Limit <= 0 returns every match after Skip.
type EventFilter struct {
	Type     types.EventType
	Severity types.Severity
	Skip     int
	Limit    int
}

// Match reports whether ev passes the type and severity filters
func (f EventFilter) Match(ev types.Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	return true
}

// Store persists published records
type Store interface {
	// Events
	SaveEvent(ev types.Event) error
	GetEvent(id string) (*types.Event, error)
	ListEvents(filter EventFilter) ([]*types.Event, error)

	// Sensor readings
	SaveReading(rd types.SensorReading) error
	ListReadings(sensorID string, since time.Time) ([]*types.SensorReading, error)
	// PruneReadings deletes readings taken before the cutoff
	PruneReadings(before time.Time) (int, error)

	// Alerts
	SaveAlert(alert Alert) error
	GetAlert(id string) (*Alert, error)
	ListAlerts(unresolvedOnly bool) ([]*Alert, error)
	ResolveAlert(id string, at time.Time) (*Alert, error)
	AlertCounts() (total, unresolved int, err error)

	// SaveBatch writes events, their alerts and readings atomically
	SaveBatch(b Batch) error

	Close() error
}
