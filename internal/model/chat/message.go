package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation transcript.
//
// ThinkingContent is nil when the model produced no thinking block and points to an
// empty string when a block was present but empty.
type Message struct {
	ID              string         `json:"id"`
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	ThinkingContent *string        `json:"thinkingContent,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Files           []FileInfo     `json:"files,omitempty"`
	SearchResults   []SearchResult `json:"searchResults,omitempty"`
	SearchSummary   string         `json:"searchSummary,omitempty"`
	Model           string         `json:"model,omitempty"`
	Error           bool           `json:"error,omitempty"`
}

// HasThinking reports whether a thinking block was extracted.
func (m Message) HasThinking() bool {
	return m.ThinkingContent != nil
}

// Thinking returns the thinking text or "" when absent.
func (m Message) Thinking() string {
	if m.ThinkingContent == nil {
		return ""
	}
	return *m.ThinkingContent
}

// Clone returns a deep copy so callers never share slices with the store.
func (m Message) Clone() Message {
	out := m
	if m.ThinkingContent != nil {
		thinking := *m.ThinkingContent
		out.ThinkingContent = &thinking
	}
	if m.Files != nil {
		out.Files = append([]FileInfo(nil), m.Files...)
	}
	if m.SearchResults != nil {
		out.SearchResults = append([]SearchResult(nil), m.SearchResults...)
	}
	return out
}

// FileInfo 用户随消息附带的文件，文本内容或内嵌图片数据。
type FileInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	IsImage   bool   `json:"isImage,omitempty"`
	ImageData string `json:"imageData,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// SearchResult 网页搜索增强返回的单条结果。
type SearchResult struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Snippet   string `json:"snippet,omitempty"`
	Image     string `json:"image,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Source    string `json:"source,omitempty"`
	Date      string `json:"date,omitempty"`
}
