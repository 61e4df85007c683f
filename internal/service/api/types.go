package api

// Response statuses reported by /response.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "error"
)

// UploadedFile is a document attached to a session. Processed stays false until
// the backend has indexed it.
type UploadedFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Processed bool   `json:"processed"`
}

// Model is an entry of /models.
type Model struct {
	Name    string `json:"name"`
	Size    string `json:"size"`
	RawSize int64  `json:"raw_size"`
}

// ChunkMetadata locates a chunk inside its source document.
type ChunkMetadata struct {
	Source    string  `json:"source,omitempty"`
	Page      int     `json:"page,omitempty"`
	Chunk     int     `json:"chunk,omitempty"`
	ChunkOf   int     `json:"chunk_of,omitempty"`
	Relevance float64 `json:"relevance,omitempty"`
}

// Chunk is one indexed piece of an uploaded document.
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// DocumentChunks is the response of /document/chunks.
type DocumentChunks struct {
	DocumentName string  `json:"document_name"`
	Chunks       []Chunk `json:"chunks"`
}

// Memory is what the backend remembers about a session.
type Memory struct {
	ShortTermCount int                 `json:"shortTermCount"`
	LongTermTopics []string            `json:"longTermTopics"`
	Facts          map[string][]string `json:"facts"`
}

// Empty reports whether the backend holds no memory for the session.
func (m Memory) Empty() bool {
	return m.ShortTermCount == 0 && len(m.LongTermTopics) == 0 && len(m.Facts) == 0
}

type chatRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"session_id"`
	EnhanceQuery bool   `json:"enhance_query"`
}

type chatResponse struct {
	MessageID string `json:"message_id"`
}

type pollResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

type uploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type filesResponse struct {
	Files []UploadedFile `json:"files"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

type modelsResponse struct {
	Models []Model `json:"models"`
}

type setModelRequest struct {
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

type setModelResponse struct {
	Success bool `json:"success"`
}
