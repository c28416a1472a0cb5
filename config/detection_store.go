package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// DetectionStore publishes the current Detection value. Readers call Load
// once per operation and use that snapshot throughout.
type DetectionStore struct {
	current atomic.Pointer[Detection]
}

// NewDetectionStore creates a store holding initial.
func NewDetectionStore(initial Detection) *DetectionStore {
	s := &DetectionStore{}
	s.current.Store(&initial)
	return s
}

// Load returns the current snapshot. Callers must not mutate it.
func (s *DetectionStore) Load() *Detection {
	return s.current.Load()
}

// Swap validates next, publishes it and returns the previous snapshot.
func (s *DetectionStore) Swap(next Detection) (*Detection, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return s.current.Swap(&next), nil
}

// ReloadDetection re-reads the config source and swaps the detection section
// into store. onChange receives the previous and new snapshots.
func (l *Loader) ReloadDetection(store *DetectionStore, onChange func(old, next *Detection)) error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("re-reading config file: %w", err)
	}

	var next Detection
	if err := l.v.UnmarshalKey("detection", &next); err != nil {
		return fmt.Errorf("unmarshaling detection config: %w", err)
	}

	old, err := store.Swap(next)
	if err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}
	if onChange != nil {
		onChange(old, store.Load())
	}
	return nil
}

// WatchDetection reloads the detection section whenever the config file
// changes. Invalid edits are reported through onError and leave the previous
// snapshot in place.
func (l *Loader) WatchDetection(store *DetectionStore, onChange func(old, next *Detection), onError func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		if err := l.ReloadDetection(store, onChange); err != nil && onError != nil {
			onError(err)
		}
	})
	l.v.WatchConfig()
}
