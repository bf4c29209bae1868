package dispatch

import (
	"sort"
	"sync"
)

// --------------------------------------------------------------------------
// Subscription State
// --------------------------------------------------------------------------

// State is the process-wide subscription and tracking state of one logical
// client. It is initialized at client build, mutated only by the subscribe/
// unsubscribe/tracking calls and torn down on quit. The reconnection manager
// reads a snapshot to replay the state onto a fresh connection.
type State struct {
	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}
	tracking bool
}

// NewState creates an empty subscription state.
func NewState() *State {
	return &State{
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// AddChannels records channel subscriptions.
func (s *State) AddChannels(channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
}

// RemoveChannels removes channel subscriptions. No arguments removes all.
func (s *State) RemoveChannels(channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(channels) == 0 {
		s.channels = make(map[string]struct{})
		return
	}
	for _, ch := range channels {
		delete(s.channels, ch)
	}
}

// AddPatterns records pattern subscriptions.
func (s *State) AddPatterns(patterns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns[p] = struct{}{}
	}
}

// RemovePatterns removes pattern subscriptions. No arguments removes all.
func (s *State) RemovePatterns(patterns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(patterns) == 0 {
		s.patterns = make(map[string]struct{})
		return
	}
	for _, p := range patterns {
		delete(s.patterns, p)
	}
}

// SetTracking toggles the client-side caching tracking mode.
func (s *State) SetTracking(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = on
}

// Tracking reports whether tracking mode is enabled.
func (s *State) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// Subscribed reports whether any channel or pattern subscription exists.
// RESP2 connections in this state deliver pushes as sentinel arrays.
func (s *State) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) > 0 || len(s.patterns) > 0
}

// Snapshot returns the sorted channel and pattern sets plus the tracking
// flag, for replay after reconnection.
func (s *State) Snapshot() (channels, patterns []string, tracking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	for p := range s.patterns {
		patterns = append(patterns, p)
	}
	sort.Strings(channels)
	sort.Strings(patterns)
	return channels, patterns, s.tracking
}

// Clear drops all state (used on quit).
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]struct{})
	s.patterns = make(map[string]struct{})
	s.tracking = false
}
