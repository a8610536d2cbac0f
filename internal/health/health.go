package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database,omitempty"`
	Halted   bool   `json:"halted,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// State tracks whether event delivery has been stopped for good.
type State struct {
	mu     sync.RWMutex
	halted bool
	reason string
}

func NewState() *State {
	return &State{}
}

// Halt marks delivery as stopped. Only the first reason is kept.
func (s *State) Halt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.reason = reason
}

func (s *State) Halted() (bool, string) {
	if s == nil {
		return false, ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted, s.reason
}

// HTTPHandler returns an HTTP handler that reports the health status of the relay.
// A nil pinger skips the database check and a nil state never reports halted.
func HTTPHandler(pinger Pinger, state *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true}
		code := http.StatusOK

		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
				code = http.StatusServiceUnavailable
			}
		}
		if halted, reason := state.Halted(); halted {
			st.OK = false
			st.Halted = true
			st.Reason = reason
			if st.Database {
				st.Message = "event delivery halted"
			}
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
