package authflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the FlowState for one authorization attempt.
//
// All mutation goes through Apply, which is guarded by a generation token:
// Reset bumps the generation, so a step that was in flight when the user
// reset the flow cannot write its late-arriving result into the fresh state.
type Store struct {
	mu    sync.Mutex
	gen   uint64
	state FlowState
}

// NewStore creates a store in the idle step for the given server.
func NewStore(server ServerIdentity) *Store {
	return &Store{
		state: FlowState{
			CurrentStep: StepIdle,
			Server:      server,
		},
	}
}

// Generation returns the current generation token. A step captures this
// before doing work and passes it back to Apply.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Apply mutates the state under lock if gen still matches the current
// generation. Returns false when the write was discarded because the flow
// was reset in the meantime.
func (s *Store) Apply(gen uint64, fn func(*FlowState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	fn(&s.state)
	return true
}

// Reset replaces the whole state with a fresh idle state, keeping the server
// identity, and invalidates any in-flight step writes.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state = FlowState{
		CurrentStep: StepIdle,
		Server:      s.state.Server,
	}
}

// Snapshot returns a deep copy of the current state for visualization.
func (s *Store) Snapshot() FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// appendHistory appends a new history entry for a call that is about to be
// issued and returns its id. The entry is later patched via patchHistory.
func (s *Store) appendHistory(gen uint64, step Step, req HTTPRequestRecord) (string, bool) {
	id := uuid.New().String()
	ok := s.Apply(gen, func(st *FlowState) {
		st.History = append(st.History, HTTPHistoryEntry{
			ID:        id,
			Step:      step,
			StartedAt: time.Now(),
			Request:   req,
		})
	})
	return id, ok
}

// patchHistory sets the response, duration and error detail of the entry
// with the given id. Each entry is patched exactly once, after the
// corresponding call resolves.
func (s *Store) patchHistory(gen uint64, id string, resp *HTTPResponseRecord, d time.Duration, errDetail string) bool {
	return s.Apply(gen, func(st *FlowState) {
		for i := range st.History {
			if st.History[i].ID == id {
				st.History[i].Response = resp
				st.History[i].Duration = d
				st.History[i].Err = errDetail
				return
			}
		}
	})
}

// appendInfo appends a structured info log entry.
func (s *Store) appendInfo(gen uint64, step Step, label string, payload map[string]any, sev Severity) bool {
	return s.Apply(gen, func(st *FlowState) {
		st.InfoLog = append(st.InfoLog, InfoLogEntry{
			ID:        uuid.New().String(),
			Step:      step,
			Label:     label,
			Payload:   payload,
			Severity:  sev,
			Timestamp: time.Now(),
		})
	})
}
