package chat

import (
	"log"

	"github.com/google/uuid"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/transport"
)

// disconnectedReason finalizes a reply cut off by a dropped socket.
const disconnectedReason = "Disconnected - Reconnecting..."

// handleFrame folds one server frame into the session it arrived on. Frames of
// one session are delivered sequentially by its read loop.
func (s *Store) handleFrame(id string, frame protocol.Frame) {
	sess, err := s.lookup(id)
	if err != nil {
		return
	}

	switch f := frame.(type) {
	case protocol.StreamFrame:
		msg := sess.recon.ApplyFragment(f.Content)
		s.emit(Event{SessionID: id, Kind: EventMessage, Message: &msg})

	case protocol.CompleteFrame:
		msg, ok := sess.recon.Complete(f)
		s.mu.Lock()
		sess.loading = false
		s.mu.Unlock()
		if ok {
			s.emit(Event{SessionID: id, Kind: EventComplete, Message: &msg})
		}

	case protocol.ErrorFrame:
		s.mu.Lock()
		wasLoading := sess.loading || sess.recon.InFlight()
		sess.loading = false
		sess.lastErr = f.Message
		s.mu.Unlock()

		ev := Event{SessionID: id, Kind: EventError, Text: f.Message}
		if wasLoading {
			msg := sess.recon.Fail(f.Message)
			ev.Message = &msg
		}
		s.emit(ev)

	case protocol.ModelsFrame:
		s.mu.Lock()
		sess.models = f.Models
		if len(f.Models) > 0 && (sess.model == "" || !offers(f.Models, sess.model)) {
			sess.model = f.Models[0].Name
		}
		models := append([]protocol.ModelInfo(nil), f.Models...)
		s.mu.Unlock()
		s.emit(Event{SessionID: id, Kind: EventModels, Models: models})

	case protocol.ConversationHistory:
		// a transcript taken before the pending user message would drop it
		s.mu.RLock()
		busy := sess.loading || sess.recon.InFlight()
		s.mu.RUnlock()
		if busy {
			log.Printf("[store] %s history ignored while a reply is pending", id)
			return
		}
		messages := make([]chat.Message, 0, len(f.Messages))
		for _, h := range f.Messages {
			messages = append(messages, h.ToMessage(uuid.NewString()))
		}
		sess.recon.ReplaceHistory(messages)
		s.emit(Event{SessionID: id, Kind: EventHistory})

	case protocol.HubImportResponse, protocol.HubExportResponse, protocol.FolderScanResult, protocol.SystemInfo:
		if !s.deliver(sess, frame) {
			log.Printf("[store] %s unsolicited %s dropped", id, frame.FrameType())
		}

	default:
		log.Printf("[store] %s unhandled frame %s", id, frame.FrameType())
	}
}

// handleState reacts to connection changes. Every fresh socket asks for the
// transcript; a socket lost mid-reply ends that reply.
func (s *Store) handleState(id string, conn *transport.Conn, state transport.State) {
	sess, err := s.lookup(id)
	if err != nil {
		return
	}

	switch state {
	case transport.StateOpen:
		if err := conn.Send(protocol.GetConversationHistory(id)); err != nil {
			log.Printf("[store] %s request history failed: %v", id, err)
		}
	case transport.StateClosed:
		s.mu.Lock()
		wasLoading := sess.loading
		sess.loading = false
		if wasLoading {
			sess.lastErr = disconnectedReason
		}
		s.mu.Unlock()
		if wasLoading {
			msg := sess.recon.Fail(disconnectedReason)
			s.emit(Event{SessionID: id, Kind: EventError, Message: &msg, Text: disconnectedReason})
		}
	}
	s.emit(Event{SessionID: id, Kind: EventState, State: state})
}

// deliver hands a response frame to the oldest caller waiting for its type.
func (s *Store) deliver(sess *session, frame protocol.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := sess.waiters[frame.FrameType()]
	if len(queue) == 0 {
		return false
	}
	ch := queue[0]
	sess.waiters[frame.FrameType()] = queue[1:]
	ch <- frame
	return true
}
