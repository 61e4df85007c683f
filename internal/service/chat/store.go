package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/api"
	"github.com/zhouzirui/hubchat/internal/service/hub"
	"github.com/zhouzirui/hubchat/internal/service/stream"
	"github.com/zhouzirui/hubchat/internal/service/transport"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBusy            = errors.New("please wait for the current response to complete")
	ErrNoModel         = errors.New("no model selected")
	ErrUnknownModel    = errors.New("model not offered by backend")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNoAPI           = errors.New("http api is not configured")
	ErrExportFailed    = errors.New("failed to export chat session")
	ErrImportFailed    = errors.New("failed to import chat session")
	ErrScanFailed      = errors.New("folder scan failed")
)

// SessionIndex persists the sessions a client has opened.
type SessionIndex interface {
	Save(ctx context.Context, clientID string, session chat.Session) error
	List(ctx context.Context, clientID string) ([]chat.Session, error)
	Delete(ctx context.Context, clientID, chatID string) error
}

// Options wires a Store. Pool is required; the rest is optional.
type Options struct {
	ClientID        string
	Pool            *transport.Pool
	API             *api.Client
	Index           SessionIndex
	Sink            hub.Sink
	Search          chat.SearchSettings
	DefaultModel    string
	ResponseTimeout time.Duration
	OnEvent         func(Event)
}

type session struct {
	info       chat.Session
	key        transport.Key
	conn       *transport.Conn
	recon      *stream.Reconciler
	cancels    []func()
	models     []protocol.ModelInfo
	model      string
	search     chat.SearchSettings
	loading    bool
	// exchanging is set while a hub export or import waits for its response
	exchanging bool
	lastErr    string
	waiters    map[string][]chan protocol.Frame
	released   bool
}

// Store holds every open conversation of one client and routes user actions to
// the transport, the HTTP API and the hub codec.
type Store struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
	active   string
	now      func() time.Time
}

// NewStore creates a store. A missing client id is generated.
func NewStore(opts Options) (*Store, error) {
	if opts.Pool == nil {
		return nil, errors.New("transport pool is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Search == (chat.SearchSettings{}) {
		opts.Search = chat.DefaultSearchSettings()
	}
	if err := opts.Search.Validate(); err != nil {
		return nil, fmt.Errorf("search settings: %w", err)
	}
	if opts.Sink == nil {
		opts.Sink = hub.DirSink{Dir: "."}
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 30 * time.Second
	}

	return &Store{
		opts:     opts,
		sessions: make(map[string]*session),
		now:      time.Now,
	}, nil
}

// ClientID returns the id shared by every connection of this store.
func (s *Store) ClientID() string {
	return s.opts.ClientID
}

// CreateSession starts a new conversation and makes it active if none is.
func (s *Store) CreateSession(ctx context.Context, name string) (chat.Session, error) {
	s.mu.RLock()
	n := len(s.order) + 1
	s.mu.RUnlock()

	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Chat %d", n)
	}
	info := chat.Session{ID: uuid.NewString(), Name: name, Created: s.now().UTC()}
	if err := s.OpenSession(ctx, info); err != nil {
		return chat.Session{}, err
	}
	return info, nil
}

// OpenSession attaches an existing conversation, typically one restored from the
// index. Opening an already open session is a no-op.
func (s *Store) OpenSession(ctx context.Context, info chat.Session) error {
	if info.ID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if _, ok := s.sessions[info.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	sess := &session{
		info:    info,
		key:     transport.Key{ClientID: s.opts.ClientID, ChatID: info.ID},
		recon:   stream.NewReconciler(),
		model:   s.opts.DefaultModel,
		search:  s.opts.Search,
		waiters: make(map[string][]chan protocol.Frame),
	}
	s.sessions[info.ID] = sess
	s.order = append(s.order, info.ID)
	if s.active == "" {
		s.active = info.ID
	}
	s.mu.Unlock()

	var cancels []func()
	conn, err := s.opts.Pool.Acquire(sess.key, func(c *transport.Conn) {
		cancels = append(cancels,
			c.Subscribe(func(f protocol.Frame) { s.handleFrame(info.ID, f) }),
			c.OnStateChange(func(st transport.State) { s.handleState(info.ID, c, st) }),
		)
	})
	if err != nil {
		s.forget(info.ID)
		return fmt.Errorf("open session %s: %w", info.ID, err)
	}

	s.mu.Lock()
	sess.conn = conn
	sess.cancels = cancels
	s.mu.Unlock()

	if s.opts.Index != nil {
		if err := s.opts.Index.Save(ctx, s.opts.ClientID, info); err != nil {
			log.Printf("[store] persist session %s failed: %v", info.ID, err)
		}
	}
	return nil
}

// Restore opens every session recorded in the index.
func (s *Store) Restore(ctx context.Context) ([]chat.Session, error) {
	if s.opts.Index == nil {
		return nil, nil
	}
	list, err := s.opts.Index.List(ctx, s.opts.ClientID)
	if err != nil {
		return nil, fmt.Errorf("restore sessions: %w", err)
	}
	for _, info := range list {
		if err := s.OpenSession(ctx, info); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// CloseSession releases a conversation. With forget the index entry is removed
// as well.
func (s *Store) CloseSession(ctx context.Context, id string, forget bool) error {
	sess, ok := s.forget(id)
	if !ok {
		return ErrSessionNotFound
	}
	if forget && s.opts.Index != nil {
		if err := s.opts.Index.Delete(ctx, s.opts.ClientID, id); err != nil {
			return fmt.Errorf("forget session %s: %w", id, err)
		}
	}
	s.release(sess)
	return nil
}

func (s *Store) forget(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == id {
		s.active = ""
		if len(s.order) > 0 {
			s.active = s.order[len(s.order)-1]
		}
	}
	return sess, true
}

func (s *Store) release(sess *session) {
	s.mu.Lock()
	if sess.released {
		s.mu.Unlock()
		return
	}
	sess.released = true
	cancels := sess.cancels
	sess.cancels = nil
	conn := sess.conn
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if conn != nil {
		s.opts.Pool.Release(sess.key)
	}
}

// Close releases every session. The index is left untouched.
func (s *Store) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.sessions = make(map[string]*session)
	s.order = nil
	s.active = ""
	s.mu.Unlock()

	for _, sess := range sessions {
		s.release(sess)
	}
}

// Sessions lists open conversations in creation order.
func (s *Store) Sessions() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].info)
	}
	return out
}

// SetActive switches the active conversation.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	s.active = id
	return nil
}

// Active returns the active conversation.
func (s *Store) Active() (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.active]
	if !ok {
		return chat.Session{}, false
	}
	return sess.info, true
}

// Messages returns a copy of a session transcript.
func (s *Store) Messages(id string) ([]chat.Message, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.recon.Messages(), nil
}

// Status returns a snapshot of a session.
func (s *Store) Status(id string) (Status, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	count := len(sess.recon.Messages())

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Session:   sess.info,
		Loading:   sess.loading,
		Model:     sess.model,
		Models:    append([]protocol.ModelInfo(nil), sess.models...),
		Search:    sess.search,
		LastError: sess.lastErr,
		Messages:  count,
	}
	if sess.conn != nil {
		st.State = sess.conn.State()
	}
	return st, nil
}

// SelectModel sets the model used for subsequent messages.
func (s *Store) SelectModel(id, name string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sess.models) > 0 && !offers(sess.models, name) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	sess.model = name
	return nil
}

// SetSearch replaces the search settings of a session.
func (s *Store) SetSearch(id string, settings chat.SearchSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	sess.search = settings
	s.mu.Unlock()
	return nil
}

// SendMessage appends a user message and streams the reply over the session
// socket.
func (s *Store) SendMessage(_ context.Context, id, text string, files []chat.FileInfo) error {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return ErrEmptyMessage
	}
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case sess.model == "":
		s.mu.Unlock()
		return ErrNoModel
	case sess.loading || sess.exchanging || sess.recon.InFlight():
		s.mu.Unlock()
		return ErrBusy
	case sess.conn == nil || !sess.conn.State().Connected():
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	sess.loading = true
	sess.lastErr = ""
	model, search, conn := sess.model, sess.search, sess.conn
	s.mu.Unlock()

	sess.recon.AppendUser(chat.Message{
		Role:    chat.RoleUser,
		Content: text,
		Files:   files,
		Model:   model,
	})

	if err := conn.Send(protocol.NewSendRequest(text, files, model, search)); err != nil {
		msg := sess.recon.Fail(err.Error())
		s.mu.Lock()
		sess.loading = false
		sess.lastErr = err.Error()
		s.mu.Unlock()
		s.emit(Event{SessionID: id, Kind: EventError, Message: &msg, Text: err.Error()})
		return err
	}
	return nil
}

// RefreshHistory asks the backend to resend the transcript.
func (s *Store) RefreshHistory(id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.send(sess, protocol.GetConversationHistory(id))
}

func (s *Store) lookup(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) send(sess *session, v any) error {
	s.mu.RLock()
	conn := sess.conn
	s.mu.RUnlock()
	if conn == nil {
		return transport.ErrNotConnected
	}
	return conn.Send(v)
}

func (s *Store) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

func offers(models []protocol.ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}
