package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/citypulse/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEvents   = []byte("events")
	bucketEventIDs = []byte("event_ids")
	bucketReadings = []byte("readings")
	bucketAlerts   = []byte("alerts")
)

// BoltStore implements Store interface using BoltDB.
//
// Events are keyed by creation time then id so that cursors walk them in
// time order; event_ids maps an id to that key. Readings are keyed by
// sensor id, a slash, then the big-endian timestamp.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEvents,
			bucketEventIDs,
			bucketReadings,
			bucketAlerts,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

func eventKey(ev types.Event) []byte {
	return append(timeKey(ev.CreatedAt), []byte(ev.ID)...)
}

func readingPrefix(sensorID string) []byte {
	return []byte(sensorID + "/")
}

func readingKey(rd types.SensorReading) []byte {
	return append(readingPrefix(rd.SensorID), timeKey(rd.Timestamp)...)
}

// Event operations
func putEvent(tx *bolt.Tx, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ids := tx.Bucket(bucketEventIDs)
	b := tx.Bucket(bucketEvents)
	if old := ids.Get([]byte(ev.ID)); old != nil {
		if err := b.Delete(old); err != nil {
			return err
		}
	}
	key := eventKey(ev)
	if err := b.Put(key, data); err != nil {
		return err
	}
	return ids.Put([]byte(ev.ID), key)
}

func (s *BoltStore) SaveEvent(ev types.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putEvent(tx, ev)
	})
}

func (s *BoltStore) GetEvent(id string) (*types.Event, error) {
	var ev types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketEventIDs).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		data := tx.Bucket(bucketEvents).Get(key)
		if data == nil {
			return fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEvents returns events matching filter, newest first
func (s *BoltStore) ListEvents(filter EventFilter) ([]*types.Event, error) {
	var events []*types.Event
	skipped := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if filter.Limit > 0 && len(events) >= filter.Limit {
				break
			}
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if !filter.Match(ev) {
				continue
			}
			if skipped < filter.Skip {
				skipped++
				continue
			}
			events = append(events, &ev)
		}
		return nil
	})
	return events, err
}

// Reading operations
func putReading(tx *bolt.Tx, rd types.SensorReading) error {
	data, err := json.Marshal(rd)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketReadings).Put(readingKey(rd), data)
}

func (s *BoltStore) SaveReading(rd types.SensorReading) error {
	if !types.ValidSensorID(rd.SensorID) {
		return fmt.Errorf("invalid sensor id %q", rd.SensorID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putReading(tx, rd)
	})
}

// ListReadings returns a sensor's readings at or after since, oldest first
func (s *BoltStore) ListReadings(sensorID string, since time.Time) ([]*types.SensorReading, error) {
	var readings []*types.SensorReading
	prefix := readingPrefix(sensorID)
	start := append(append([]byte{}, prefix...), timeKey(since)...)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReadings).Cursor()
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rd types.SensorReading
			if err := json.Unmarshal(v, &rd); err != nil {
				return err
			}
			readings = append(readings, &rd)
		}
		return nil
	})
	return readings, err
}

// PruneReadings deletes every reading older than before and returns the
// number removed
func (s *BoltStore) PruneReadings(before time.Time) (int, error) {
	cutoff := uint64(before.UnixNano())
	var stale [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReadings)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) < 8 {
				continue
			}
			if binary.BigEndian.Uint64(k[len(k)-8:]) < cutoff {
				stale = append(stale, append([]byte{}, k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Alert operations
func putAlert(tx *bolt.Tx, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAlerts).Put([]byte(alert.ID), data)
}

func (s *BoltStore) SaveAlert(alert Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAlert(tx, alert)
	})
}

func (s *BoltStore) GetAlert(id string) (*Alert, error) {
	var alert Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlerts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &alert)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns alerts newest first
func (s *BoltStore) ListAlerts(unresolvedOnly bool) ([]*Alert, error) {
	var alerts []*Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			if unresolvedOnly && alert.IsResolved {
				return nil
			}
			alerts = append(alerts, &alert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

// ResolveAlert marks an alert resolved. Resolving twice keeps the first
// resolution time.
func (s *BoltStore) ResolveAlert(id string, at time.Time) (*Alert, error) {
	var alert Alert
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlerts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &alert); err != nil {
			return err
		}
		if alert.IsResolved {
			return nil
		}
		alert.IsResolved = true
		resolved := at.UTC()
		alert.ResolvedAt = &resolved
		return putAlert(tx, alert)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// AlertCounts returns the number of stored and unresolved alerts
func (s *BoltStore) AlertCounts() (total, unresolved int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert struct {
				IsResolved bool `json:"is_resolved"`
			}
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			total++
			if !alert.IsResolved {
				unresolved++
			}
			return nil
		})
	})
	return total, unresolved, err
}

// SaveBatch writes the batch in one transaction. Alert-type events also
// create an unresolved alert unless one with the same id exists.
func (s *BoltStore) SaveBatch(batch Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, ev := range batch.Events {
			if err := putEvent(tx, ev); err != nil {
				return fmt.Errorf("failed to save event %s: %w", ev.ID, err)
			}
			if ev.Type != types.EventAlert {
				continue
			}
			if tx.Bucket(bucketAlerts).Get([]byte(ev.ID)) != nil {
				continue
			}
			if err := putAlert(tx, AlertFromEvent(ev)); err != nil {
				return fmt.Errorf("failed to save alert %s: %w", ev.ID, err)
			}
		}
		for _, rd := range batch.Readings {
			if err := putReading(tx, rd); err != nil {
				return fmt.Errorf("failed to save reading for %s: %w", rd.SensorID, err)
			}
		}
		return nil
	})
}
