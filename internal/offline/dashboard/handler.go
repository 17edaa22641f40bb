package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	offline "github.com/mwsrs/reviews/internal/offline/sync"
)

// MutationData describes one local write.
type MutationData struct {
	Op        string `json:"op"`
	Record    string `json:"record"`
	Status    string `json:"status"`
	PendingID int64  `json:"pending_id,omitempty"`
}

// ReplayCompleteData summarizes a replay pass.
type ReplayCompleteData struct {
	Resolved  int                     `json:"resolved"`
	Failed    int                     `json:"failed"`
	Skipped   int                     `json:"skipped"`
	Remaining int                     `json:"remaining"`
	Duration  time.Duration           `json:"duration"`
	Failures  []offline.ReplayFailure `json:"failures,omitempty"`
	Retargets map[string]int64        `json:"retargets,omitempty"`
}

// StatsData contains running totals since the server started.
type StatsData struct {
	Mutations   int       `json:"mutations"`
	Confirmed   int       `json:"confirmed"`
	Unconfirmed int       `json:"unconfirmed"`
	Pending     int       `json:"pending"`
	Replays     int       `json:"replays"`
	LastReplay  time.Time `json:"last_replay,omitempty"`
}

// Handler turns coordinator events into dashboard messages. It implements
// sync.Observer.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ offline.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, logger: logger}
	server.SetStatsSource(func() *StatsData {
		s := h.GetStats()
		return &s
	})
	return h
}

// OnMutation implements sync.Observer.
func (h *Handler) OnMutation(ev offline.MutationEvent) {
	h.mu.Lock()
	h.stats.Mutations++
	switch ev.Status {
	case offline.StatusConfirmed:
		h.stats.Confirmed++
	case offline.StatusUnconfirmed:
		h.stats.Unconfirmed++
		h.stats.Pending++
	}
	pending := h.stats.Pending
	h.mu.Unlock()

	Mutations.WithLabelValues(ev.Op.String(), ev.Status.String()).Inc()
	PendingWrites.Set(float64(pending))

	h.send(MessageTypeMutation, ev.At, MutationData{
		Op:        ev.Op.String(),
		Record:    ev.Key.String(),
		Status:    ev.Status.String(),
		PendingID: ev.PendingID,
	})
	h.broadcastStats()
}

// OnReplay implements sync.Observer.
func (h *Handler) OnReplay(report offline.ReplayReport) {
	if report.Resolved+report.Failed > 0 {
		h.logger.Printf("Replay complete: %d resolved, %d failed, %d remaining in %v",
			report.Resolved, report.Failed, report.Remaining, report.Duration)
	}

	h.mu.Lock()
	h.stats.Replays++
	h.stats.Pending = report.Remaining
	h.stats.LastReplay = time.Now()
	h.mu.Unlock()

	ReplayedOps.WithLabelValues("resolved").Add(float64(report.Resolved))
	ReplayedOps.WithLabelValues("failed").Add(float64(report.Failed))
	ReplayedOps.WithLabelValues("skipped").Add(float64(report.Skipped))
	PendingWrites.Set(float64(report.Remaining))

	h.send(MessageTypeReplayComplete, time.Now(), ReplayCompleteData{
		Resolved:  report.Resolved,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Remaining: report.Remaining,
		Duration:  report.Duration,
		Failures:  report.Failures,
		Retargets: report.Retargets,
	})
	h.broadcastStats()
}

// UpdateStats resets the pending total, e.g. from the store at startup.
func (h *Handler) UpdateStats(pending int) {
	h.mu.Lock()
	h.stats.Pending = pending
	h.mu.Unlock()
	PendingWrites.Set(float64(pending))
	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) broadcastStats() {
	h.send(MessageTypeStats, time.Now(), h.GetStats())
}

func (h *Handler) send(typ MessageType, at time.Time, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}
