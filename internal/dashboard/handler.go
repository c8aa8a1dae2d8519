package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/frotahub/frotahub/internal/schema"
	"github.com/frotahub/frotahub/internal/sync"
)

// Handler relays sync lifecycle events to the WebSocket server.
// It implements sync.Events.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// StateData carries an indicator state transition.
type StateData struct {
	State string `json:"state"`
}

// RecordPushedData identifies a submission drained to the remote endpoint.
type RecordPushedData struct {
	ID              string `json:"id"`
	UnitID          string `json:"unit_id"`
	OperationalDate string `json:"operational_date"`
}

// PushCompleteData summarizes an outbound pass.
type PushCompleteData struct {
	Pushed int    `json:"pushed"`
	Error  string `json:"error,omitempty"`
}

// PullCompleteData summarizes an inbound merge.
type PullCompleteData struct {
	Merged         int  `json:"merged"`
	RosterReplaced bool `json:"roster_replaced"`
}

// OnStateChange handles indicator state transitions.
func (h *Handler) OnStateChange(state sync.State) {
	h.send(MessageTypeState, StateData{State: string(state)})
}

// OnRecordPushed handles per-record push completions.
func (h *Handler) OnRecordPushed(sub *schema.Submission) {
	h.logger.Printf("Record pushed: %s (unit %s)", sub.ID, sub.UnitID)

	h.send(MessageTypeRecordPushed, RecordPushedData{
		ID:              sub.ID,
		UnitID:          sub.UnitID,
		OperationalDate: sub.OperationalDate,
	})
}

// OnPushComplete handles outbound pass completions.
func (h *Handler) OnPushComplete(pushed int, err error) {
	data := PushCompleteData{Pushed: pushed}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypePushComplete, data)
}

// OnPullComplete handles inbound merge completions.
func (h *Handler) OnPullComplete(merged int, rosterReplaced bool) {
	h.logger.Printf("Pull complete: %d merged (roster replaced: %v)", merged, rosterReplaced)

	h.send(MessageTypePullComplete, PullCompleteData{
		Merged:         merged,
		RosterReplaced: rosterReplaced,
	})
}

// send marshals the payload and broadcasts it.
func (h *Handler) send(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
