package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/gateway"
	"github.com/cuemby/citypulse/pkg/storage"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultLookbackMinutes = 60
	minLookbackMinutes     = 10
	maxLookbackMinutes     = 1440

	defaultHorizonHours = 24
	maxHorizonHours     = 168

	defaultEventsLimit = 100
	maxEventsLimit     = 1000
	maxEventBody       = 64 << 10
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RecentResponse is the body of /api/v1/stream/recent. Clients resume by
// passing LastSeq as after.
type RecentResponse struct {
	Channel string                `json:"channel"`
	LastSeq uint64                `json:"last_seq"`
	Entries []gateway.RecentEntry `json:"entries"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// intParam parses an optional integer query parameter within [min, max]
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = types.ChannelEvents
	}
	if _, err := types.ParseChannel(channel); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	limit, err := intParam(r, "limit", gateway.DefaultRecentLimit, 1, gateway.MaxRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		if after, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
	}

	entries := s.recent.Query(channel, limit, after)
	last := after
	if n := len(entries); n > 0 {
		last = entries[n-1].Seq
	}
	writeJSON(w, http.StatusOK, RecentResponse{Channel: channel, LastSeq: last, Entries: entries})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Overview())
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.TrafficSummary())
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.WeatherSummary())
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if !types.ValidSensorID(sensorID) {
		writeError(w, http.StatusBadRequest, "sensor_id is required")
		return
	}
	lookback, err := intParam(r, "lookback_minutes", defaultLookbackMinutes, minLookbackMinutes, maxLookbackMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	flaggedOnly, err := boolParam(r, "flagged_only")
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	records := s.engine.DetectAnomalies(sensorID, lookback)
	if flaggedOnly {
		flagged := make([]types.AnomalyRecord, 0, len(records))
		for _, rec := range records {
			if rec.Anomaly {
				flagged = append(flagged, rec)
			}
		}
		records = flagged
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	eventType, err := types.ParseEventType(r.URL.Query().Get("event_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	horizon, err := intParam(r, "horizon_hours", defaultHorizonHours, 1, maxHorizonHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	fc, err := s.engine.Predict(eventType, horizon)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

// storeOr503 reports whether persistence is enabled, replying 503 if not
func (s *Server) storeOr503(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is disabled")
		return false
	}
	return true
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if !s.storeOr503(w) {
		return
	}
	limit, err := intParam(r, "limit", defaultEventsLimit, 1, maxEventsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	skip, err := intParam(r, "skip", 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	filter := storage.EventFilter{Skip: skip, Limit: limit}
	if raw := r.URL.Query().Get("event_type"); raw != "" {
		if filter.Type, err = types.ParseEventType(raw); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		if filter.Severity = types.Severity(raw); !filter.Severity.Valid() {
			writeError(w, http.StatusBadRequest, "invalid severity %q", raw)
			return
		}
	}

	evs, err := s.store.ListEvents(filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if evs == nil {
		evs = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// CreateEventRequest is the body of POST /api/v1/events. The server assigns
// the id and creation time.
type CreateEventRequest struct {
	Type        types.EventType    `json:"event_type"`
	Severity    types.Severity     `json:"severity"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Location    string             `json:"location,omitempty"`
	Latitude    *float64           `json:"latitude,omitempty"`
	Longitude   *float64           `json:"longitude,omitempty"`
	Metadata    map[string]float64 `json:"meta_data,omitempty"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if s.pub == nil {
		writeError(w, http.StatusServiceUnavailable, "event submission is disabled")
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Severity == "" {
		req.Severity = types.SeverityLow
	}

	ev := types.Event{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Metadata:    req.Metadata,
		CreatedAt:   s.now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	if err := s.pub.Publish(types.ChannelEvents, ev); err != nil {
		if errors.Is(err, events.ErrBrokerClosed) {
			writeError(w, http.StatusServiceUnavailable, "broker is closed")
			return
		}
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to publish event")
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}
	s.logger.Info().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Msg("Event submitted")
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if !s.storeOr503(w) {
		return
	}
	id := chi.URLParam(r, "eventID")

	ev, err := s.store.GetEvent(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event %s not found", id)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", id).Msg("Failed to get event")
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.storeOr503(w) {
		return
	}
	unresolved, err := boolParam(r, "unresolved")
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	alerts, err := s.store.ListAlerts(unresolved)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list alerts")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*storage.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if !s.storeOr503(w) {
		return
	}
	id := chi.URLParam(r, "alertID")

	alert, err := s.store.ResolveAlert(id, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert %s not found", id)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", id).Msg("Failed to resolve alert")
		writeError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}
	s.logger.Info().Str("alert_id", id).Msg("Alert resolved")
	writeJSON(w, http.StatusOK, alert)
}
