// Package websocket implements the interactive generation session: a
// full-duplex, per-request channel streaming progress and sections while the
// engine runs, with clarification rounds relayed back into the engine.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/engine"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/store"
)

// Server-to-client frame types
const (
	FrameStatus              = "status"
	FrameProgress            = "progress"
	FrameSection             = "section"
	FrameClarificationNeeded = "clarification_needed"
	FrameGenerationComplete  = "generation_complete"
	FrameError               = "error"
)

// Client-to-server frame types
const (
	FrameStartGeneration      = "start_generation"
	FrameClarificationAnswers = "clarification_answers"
	FrameResponse             = "response"
)

// OutFrame is one server-to-client message
type OutFrame struct {
	Type      string                 `json:"type"`
	Status    models.RequestStatus   `json:"status,omitempty"`
	Progress  int                    `json:"progress,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Section   *models.PRDSection     `json:"section,omitempty"`
	Questions []models.Clarification `json:"questions,omitempty"`
	Document  *models.PRDDocument    `json:"document,omitempty"`
}

// InFrame is one client-to-server message
type InFrame struct {
	Type     string                 `json:"type"`
	Answers  []models.Clarification `json:"answers,omitempty"`
	Response string                 `json:"response,omitempty"`
}

// Deps wires the session layer
type Deps struct {
	Store  store.Store
	Engine *engine.Engine
	Logger observability.Logger
}

// Hub tracks active sessions; a request admits at most one at a time
type Hub struct {
	deps Deps

	mu     sync.Mutex
	active map[uuid.UUID]bool
}

// NewHub creates an empty hub
func NewHub(deps Deps) *Hub {
	return &Hub{deps: deps, active: make(map[uuid.UUID]bool)}
}

// Serve upgrades the connection and runs the session until the client
// disconnects or generation finishes. A second session for the same request
// is rejected before the upgrade.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, requestID uuid.UUID) error {
	h.mu.Lock()
	if h.active[requestID] {
		h.mu.Unlock()
		return models.NewErrorf(models.ErrConflict,
			"request %s already has an active session", requestID)
	}
	h.active[requestID] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.active, requestID)
		h.mu.Unlock()
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return models.WrapError(models.ErrValidation, "websocket upgrade failed", err)
	}

	session := &session{
		hub:       h,
		requestID: requestID,
		conn:      conn,
	}
	session.run(r.Context())
	return nil
}

// session is one live connection
type session struct {
	hub       *Hub
	requestID uuid.UUID
	conn      *websocket.Conn

	writeMu sync.Mutex

	// stateMu guards generating and pending, shared between the read loop
	// and the generation task
	stateMu    sync.Mutex
	generating bool
	pending    []models.Clarification
}

// run owns the read loop; generation runs as a sibling task whose context
// is cancelled when the client disconnects
func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var tasks sync.WaitGroup
	defer tasks.Wait()
	defer s.conn.Close(websocket.StatusNormalClosure, "session closed")

	s.sendStatus(ctx)

	for {
		var frame InFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			// Client gone: cancel any in-flight generation.
			cancel()
			return
		}
		switch frame.Type {
		case FrameStartGeneration:
			s.startGeneration(ctx, &tasks, nil)

		case FrameClarificationAnswers:
			s.startGeneration(ctx, &tasks, frame.Answers)

		case FrameResponse:
			s.answerPending(ctx, &tasks, frame.Response)

		default:
			s.send(ctx, OutFrame{Type: FrameError, Message: "unknown frame type " + frame.Type})
		}
	}
}

// startGeneration launches one engine pass; a request runs at most one at a
// time
func (s *session) startGeneration(ctx context.Context, tasks *sync.WaitGroup, answers []models.Clarification) {
	if s.hub.deps.Engine == nil {
		s.send(ctx, OutFrame{Type: FrameError, Message: "generation is not configured"})
		return
	}
	s.stateMu.Lock()
	if s.generating {
		s.stateMu.Unlock()
		s.send(ctx, OutFrame{Type: FrameError, Message: "generation already running"})
		return
	}
	s.generating = true
	s.pending = nil
	s.stateMu.Unlock()

	tasks.Add(1)
	go func() {
		defer tasks.Done()
		s.generate(ctx, answers)
	}()
}

// answerPending fills the first open question from the last clarification
// round with a free-form response; once every question has an answer the
// round is resubmitted
func (s *session) answerPending(ctx context.Context, tasks *sync.WaitGroup, response string) {
	s.stateMu.Lock()
	if s.generating || len(s.pending) == 0 {
		s.stateMu.Unlock()
		s.send(ctx, OutFrame{Type: FrameError, Message: "no pending question"})
		return
	}
	for i := range s.pending {
		if s.pending[i].Answer == "" {
			s.pending[i].Answer = response
			break
		}
	}
	remaining := 0
	for i := range s.pending {
		if s.pending[i].Answer == "" {
			remaining++
		}
	}
	answers := append([]models.Clarification(nil), s.pending...)
	s.stateMu.Unlock()

	if remaining > 0 {
		s.send(ctx, OutFrame{Type: FrameStatus, Status: models.StatusClarificationNeeded,
			Progress: models.StatusClarificationNeeded.Progress(),
			Message:  "answer recorded"})
		return
	}
	s.startGeneration(ctx, tasks, answers)
}

// generate runs one engine pass and streams its events
func (s *session) generate(ctx context.Context, answers []models.Clarification) {
	events := engine.Events{
		Progress: func(stage, message string) {
			s.send(ctx, OutFrame{Type: FrameProgress, Message: message})
		},
		Section: func(section models.PRDSection) {
			sectionCopy := section
			s.send(ctx, OutFrame{Type: FrameSection, Section: &sectionCopy})
		},
	}

	outcome, err := s.hub.deps.Engine.Generate(ctx,
		engine.Command{RequestID: s.requestID, Answers: answers}, events)

	// Release the slot before the terminal frame so a prompt client answer
	// is never rejected as concurrent.
	s.stateMu.Lock()
	s.generating = false
	if err == nil && outcome.NeedsClarification {
		s.pending = append([]models.Clarification(nil), outcome.Clarifications...)
	}
	s.stateMu.Unlock()

	if err != nil {
		s.send(ctx, OutFrame{Type: FrameError, Message: err.Error()})
		s.sendStatus(ctx)
		return
	}
	if outcome.NeedsClarification {
		s.send(ctx, OutFrame{Type: FrameClarificationNeeded, Questions: outcome.Clarifications})
		s.sendStatus(ctx)
		return
	}
	s.send(ctx, OutFrame{Type: FrameGenerationComplete, Document: outcome.Document})
	s.sendStatus(ctx)
}

// sendStatus emits the current persisted state of the request
func (s *session) sendStatus(ctx context.Context) {
	request, err := s.hub.deps.Store.GetRequest(ctx, s.requestID)
	if err != nil {
		s.send(ctx, OutFrame{Type: FrameError, Message: err.Error()})
		return
	}
	s.send(ctx, OutFrame{
		Type:     FrameStatus,
		Status:   request.Status,
		Progress: request.Status.Progress(),
	})
}

// send serializes outgoing writes; frames from the engine callbacks and the
// read loop never interleave
func (s *session) send(ctx context.Context, frame OutFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := wsjson.Write(ctx, s.conn, frame); err != nil {
		s.hub.deps.Logger.Debug("websocket write failed", map[string]interface{}{
			"request_id": s.requestID,
			"error":      err.Error(),
		})
	}
}
