package backend

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/hubchat/internal/service/api"
)

const chunkSize = 500

func (s *Service) sessionLocked(id string) *sessionState {
	st, ok := s.sessions[id]
	if !ok {
		st = &sessionState{facts: make(map[string][]string)}
		s.sessions[id] = st
	}
	return st
}

// Submit queues a message for background processing and returns its id.
func (s *Service) Submit(sessionID, message string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[id] = &pendingResponse{remaining: s.opts.PendingPolls, status: api.StatusPending}

	st := s.sessionLocked(sessionID)
	st.exchanged++
	if topic := topicOf(message); topic != "" {
		st.topics = appendUnique(st.topics, topic)
	}
	return id
}

// Resolve stores the outcome of a submitted message.
func (s *Service) Resolve(messageID, response string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[messageID]
	if !ok {
		return
	}
	resp.done = true
	if err != nil {
		resp.status = api.StatusFailed
		resp.response = err.Error()
		return
	}
	resp.status = api.StatusCompleted
	resp.response = response
}

// Poll reports the status of a submitted message. Results stay pending for the
// configured number of polls even when already resolved.
func (s *Service) Poll(messageID string) (status, response string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[messageID]
	if !ok {
		return "", "", ErrUnknownMessage
	}
	if resp.remaining > 0 || !resp.done {
		if resp.remaining > 0 {
			resp.remaining--
		}
		return api.StatusPending, "", nil
	}
	return resp.status, resp.response, nil
}

// Upload stores a document; it reports processed after the configured number of
// listings.
func (s *Service) Upload(sessionID, name string, content []byte) api.UploadedFile {
	file := api.UploadedFile{ID: uuid.NewString(), Name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sessionLocked(sessionID)
	st.documents = append(st.documents, &document{
		file:      file,
		remaining: s.opts.PendingPolls,
		content:   string(content),
	})
	st.facts["documents"] = appendUnique(st.facts["documents"], name)
	return file
}

// Files lists the documents of a session.
func (s *Service) Files(sessionID string) []api.UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return []api.UploadedFile{}
	}
	out := make([]api.UploadedFile, 0, len(st.documents))
	for _, doc := range st.documents {
		if doc.remaining > 0 {
			doc.remaining--
		} else {
			doc.file.Processed = true
		}
		out = append(out, doc.file)
	}
	return out
}

// Chunks splits an uploaded document into fixed-size pieces.
func (s *Service) Chunks(sessionID, name string) (api.DocumentChunks, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return api.DocumentChunks{}, ErrUnknownDocument
	}
	for _, doc := range st.documents {
		if doc.file.Name != name {
			continue
		}
		pieces := split(doc.content, chunkSize)
		out := api.DocumentChunks{DocumentName: name, Chunks: make([]api.Chunk, 0, len(pieces))}
		for i, p := range pieces {
			out.Chunks = append(out.Chunks, api.Chunk{
				ID:      fmt.Sprintf("%s-%d", doc.file.ID, i),
				Content: p,
				Metadata: api.ChunkMetadata{
					Source:  name,
					Chunk:   i + 1,
					ChunkOf: len(pieces),
				},
			})
		}
		return out, nil
	}
	return api.DocumentChunks{}, ErrUnknownDocument
}

// Memory returns what the backend remembers about a session.
func (s *Service) Memory(sessionID string) api.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return api.Memory{LongTermTopics: []string{}, Facts: map[string][]string{}}
	}
	facts := make(map[string][]string, len(st.facts))
	for k, v := range st.facts {
		facts[k] = append([]string(nil), v...)
	}
	return api.Memory{
		ShortTermCount: st.exchanged * 2,
		LongTermTopics: append([]string{}, st.topics...),
		Facts:          facts,
	}
}

// Summary describes a session in one line; empty when nothing was exchanged.
func (s *Service) Summary(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok || st.exchanged == 0 {
		return ""
	}
	summary := fmt.Sprintf("%d messages exchanged", st.exchanged)
	if len(st.topics) > 0 {
		summary += "; topics: " + strings.Join(st.topics, ", ")
	}
	return summary
}

// SetModel selects the model of a session.
func (s *Service) SetModel(sessionID, model string) bool {
	if !s.HasModel(model) {
		return false
	}
	s.mu.Lock()
	s.sessionLocked(sessionID).model = model
	s.mu.Unlock()
	return true
}

// HTTPModels lists the models in the /models shape.
func (s *Service) HTTPModels() []api.Model {
	infos := s.Models()
	out := make([]api.Model, 0, len(infos))
	for _, m := range infos {
		raw := int64(m.SizeGB * (1 << 30))
		out = append(out, api.Model{Name: m.Name, Size: fmt.Sprintf("%.1f GB", m.SizeGB), RawSize: raw})
	}
	return out
}

func topicOf(message string) string {
	fields := strings.Fields(message)
	for _, f := range fields {
		f = strings.Trim(strings.ToLower(f), ".,!?;:\"'")
		if len(f) > 4 {
			return f
		}
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func split(content string, size int) []string {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
