package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
)

const pendingIDPrefix = "pending-"

type inflight struct {
	index  int
	parser *Parser
}

// Reconciler folds stream frames of one session into its transcript. At most one
// assistant message is in flight and it is always the last one.
type Reconciler struct {
	mu        sync.Mutex
	messages  []chat.Message
	slot      *inflight
	lastModel string
	now       func() time.Time
}

// NewReconciler returns an empty transcript.
func NewReconciler() *Reconciler {
	return &Reconciler{now: time.Now}
}

// AppendUser adds a finalized user or system message. The model it names is
// carried onto the assistant reply.
func (r *Reconciler) AppendUser(msg chat.Message) chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = chat.RoleUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	if msg.Model != "" {
		r.lastModel = msg.Model
	}
	r.messages = append(r.messages, msg.Clone())
	return msg.Clone()
}

// ApplyFragment appends a fragment to the in-flight message, opening one if needed.
func (r *Reconciler) ApplyFragment(fragment string) chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.open()
	slot.parser.Feed(fragment)
	r.apply(slot, slot.parser.Snapshot())
	return r.messages[slot.index].Clone()
}

// Complete finalizes the in-flight message with the enrichment of frame. Without
// an in-flight message a frame carrying content becomes a finalized reply on its
// own; otherwise ok is false.
func (r *Reconciler) Complete(frame protocol.CompleteFrame) (msg chat.Message, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slot
	if slot == nil {
		if frame.Content == "" {
			return chat.Message{}, false
		}
		slot = r.open()
		slot.parser.Feed(frame.Content)
	}

	r.apply(slot, slot.parser.Finish())
	final := &r.messages[slot.index]
	final.SearchResults = frame.SearchResults
	final.SearchSummary = frame.SearchSummary
	if frame.MessageID != "" {
		final.ID = frame.MessageID
	}
	r.slot = nil
	return final.Clone(), true
}

// Fail finalizes any in-flight message and appends a synthetic error reply.
func (r *Reconciler) Fail(reason string) chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot != nil {
		r.apply(r.slot, r.slot.parser.Finish())
		r.slot = nil
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   "Error: " + reason,
		Timestamp: r.now(),
		Model:     r.lastModel,
		Error:     true,
	}
	r.messages = append(r.messages, msg)
	return msg.Clone()
}

// InFlight reports whether a message is receiving fragments.
func (r *Reconciler) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot != nil
}

// Messages returns a copy of the transcript.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chat.Message, len(r.messages))
	for i, msg := range r.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Last returns the most recent message.
func (r *Reconciler) Last() (chat.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return chat.Message{}, false
	}
	return r.messages[len(r.messages)-1].Clone(), true
}

// ReplaceHistory swaps in the backend's transcript and drops any in-flight slot.
func (r *Reconciler) ReplaceHistory(messages []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = make([]chat.Message, len(messages))
	for i, msg := range messages {
		r.messages[i] = msg.Clone()
	}
	r.slot = nil
}

func (r *Reconciler) open() *inflight {
	if r.slot != nil {
		return r.slot
	}
	r.messages = append(r.messages, chat.Message{
		ID:        pendingIDPrefix + uuid.NewString(),
		Role:      chat.RoleAssistant,
		Timestamp: r.now(),
		Model:     r.lastModel,
	})
	r.slot = &inflight{index: len(r.messages) - 1, parser: NewParser()}
	return r.slot
}

func (r *Reconciler) apply(slot *inflight, split Split) {
	msg := &r.messages[slot.index]
	msg.Content = split.Content
	msg.ThinkingContent = split.Thinking
}

// IsPendingID reports whether id is a placeholder assigned while streaming.
func IsPendingID(id string) bool {
	return len(id) > len(pendingIDPrefix) && id[:len(pendingIDPrefix)] == pendingIDPrefix
}
