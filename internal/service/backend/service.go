package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/api"
)

var (
	ErrNothingToExport = errors.New("no messages to export")
	ErrInvalidHubData  = errors.New("invalid hub data")
	ErrUnknownMessage  = errors.New("unknown message id")
	ErrUnknownDocument = errors.New("document not found")
)

// Options tunes the in-memory backend.
type Options struct {
	Models []string
	// PendingPolls is how many polls report pending before a result is visible.
	PendingPolls int
}

type conversation struct {
	clientID string
	model    string
	created  time.Time
	modified time.Time
	messages []protocol.HistoryMessage
}

type pendingResponse struct {
	remaining int
	done      bool
	status    string
	response  string
}

type document struct {
	file      api.UploadedFile
	remaining int
	content   string
}

type sessionState struct {
	model     string
	documents []*document
	exchanged int
	topics    []string
	facts     map[string][]string
}

// Service holds every conversation and HTTP session in memory.
type Service struct {
	opts Options
	now  func() time.Time

	mu            sync.RWMutex
	conversations map[string]*conversation
	responses     map[string]*pendingResponse
	sessions      map[string]*sessionState
}

// NewService creates an empty backend.
func NewService(opts Options) *Service {
	if opts.PendingPolls < 0 {
		opts.PendingPolls = 0
	}
	return &Service{
		opts:          opts,
		now:           time.Now,
		conversations: make(map[string]*conversation),
		responses:     make(map[string]*pendingResponse),
		sessions:      make(map[string]*sessionState),
	}
}

// Models lists the models offered over the socket.
func (s *Service) Models() []protocol.ModelInfo {
	out := make([]protocol.ModelInfo, 0, len(s.opts.Models))
	for i, name := range s.opts.Models {
		size := 4.0 + float64(i)*3
		out = append(out, protocol.ModelInfo{
			Name:           name,
			SizeGB:         size,
			RAMRequirement: size * 1.5,
			ParameterSize:  fmt.Sprintf("%dB", 7+i*7),
		})
	}
	return out
}

// HasModel reports whether name is offered.
func (s *Service) HasModel(name string) bool {
	for _, m := range s.opts.Models {
		if m == name {
			return true
		}
	}
	return false
}

// AppendMessage records a transcript row for chatID.
func (s *Service) AppendMessage(clientID, chatID string, msg protocol.HistoryMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversationLocked(clientID, chatID)
	if len(msg.Timestamp) == 0 {
		msg.Timestamp = timestamp(s.now())
	}
	if msg.Model != "" {
		conv.model = msg.Model
	}
	conv.messages = append(conv.messages, msg)
	conv.modified = s.now().UTC()
}

// History returns a copy of the transcript of chatID.
func (s *Service) History(chatID string) []protocol.HistoryMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[chatID]
	if !ok {
		return []protocol.HistoryMessage{}
	}
	out := make([]protocol.HistoryMessage, len(conv.messages))
	copy(out, conv.messages)
	return out
}

func (s *Service) conversationLocked(clientID, chatID string) *conversation {
	conv, ok := s.conversations[chatID]
	if !ok {
		now := s.now().UTC()
		conv = &conversation{clientID: clientID, created: now, modified: now}
		s.conversations[chatID] = conv
	}
	return conv
}

// hubMetadata is the per-message metadata object of a .hub file.
type hubMetadata struct {
	ThinkingContent *string             `json:"thinkingContent,omitempty"`
	SearchResults   []chat.SearchResult `json:"searchResults,omitempty"`
	SearchSummary   string              `json:"searchSummary,omitempty"`
	Files           []chat.FileInfo     `json:"files,omitempty"`
	Model           string              `json:"model,omitempty"`
}

// Export builds the .hub record of chatID.
func (s *Service) Export(chatID, title string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[chatID]
	if !ok || len(conv.messages) == 0 {
		return nil, ErrNothingToExport
	}
	if title == "" {
		title = "Chat Export " + s.now().Format("2006-01-02 15:04:05")
	}

	file := chat.HubFile{
		Version:  chat.HubVersion,
		ClientID: conv.clientID,
		ChatID:   chatID,
		Messages: make([]chat.HubMessage, 0, len(conv.messages)),
		Settings: chat.HubSettings{Model: conv.model, Search: chat.DefaultSearchSettings()},
		Metadata: chat.HubFileMetadata{
			Created:      conv.created.Format(time.RFC3339),
			LastModified: conv.modified.Format(time.RFC3339),
			Title:        title,
			MessageCount: len(conv.messages),
		},
	}
	for _, m := range conv.messages {
		meta, err := json.Marshal(hubMetadata{
			ThinkingContent: m.ThinkingContent,
			SearchResults:   m.SearchResults,
			SearchSummary:   m.SearchSummary,
			Files:           m.Files,
			Model:           m.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("encode message metadata: %w", err)
		}
		file.Messages = append(file.Messages, chat.HubMessage{
			ID:        uuid.NewString(),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Metadata:  meta,
		})
	}

	data, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("encode hub file: %w", err)
	}
	return data, nil
}

// Import replaces the transcript of chatID with the messages of a .hub record.
func (s *Service) Import(clientID, chatID string, raw json.RawMessage) error {
	var file chat.HubFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHubData, err)
	}
	if file.Version == "" || file.Messages == nil {
		return fmt.Errorf("%w: missing version or messages", ErrInvalidHubData)
	}

	messages := make([]protocol.HistoryMessage, 0, len(file.Messages))
	for _, m := range file.Messages {
		var meta hubMetadata
		if len(m.Metadata) > 0 && string(m.Metadata) != "null" {
			if err := json.Unmarshal(m.Metadata, &meta); err != nil {
				return fmt.Errorf("%w: message metadata: %v", ErrInvalidHubData, err)
			}
		}
		messages = append(messages, protocol.HistoryMessage{
			Role:            m.Role,
			Content:         m.Content,
			Timestamp:       m.Timestamp,
			ThinkingContent: meta.ThinkingContent,
			SearchResults:   meta.SearchResults,
			SearchSummary:   meta.SearchSummary,
			Files:           meta.Files,
			Model:           meta.Model,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(clientID, chatID)
	conv.messages = messages
	conv.model = file.Settings.Model
	conv.modified = s.now().UTC()
	return nil
}

func timestamp(t time.Time) json.RawMessage {
	data, _ := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	return data
}
