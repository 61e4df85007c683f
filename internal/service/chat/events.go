package chat

import (
	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/transport"
)

// EventKind classifies store notifications.
type EventKind string

const (
	EventMessage  EventKind = "message"  // 流式片段更新了回复
	EventComplete EventKind = "complete" // 回复已完成
	EventError    EventKind = "error"
	EventModels   EventKind = "models"
	EventHistory  EventKind = "history"
	EventState    EventKind = "state"
)

// Event is delivered to Options.OnEvent. Message is set for message, complete and
// error events that produced a transcript entry.
type Event struct {
	SessionID string
	Kind      EventKind
	Message   *chat.Message
	State     transport.State
	Models    []protocol.ModelInfo
	Text      string
}

// Status is a snapshot of one session.
type Status struct {
	Session   chat.Session
	State     transport.State
	Loading   bool
	Model     string
	Models    []protocol.ModelInfo
	Search    chat.SearchSettings
	LastError string
	Messages  int
}
