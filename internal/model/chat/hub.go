package chat

import "encoding/json"

// HubVersion is the .hub format version written by the backend.
const HubVersion = "1.0"

// HubFile is the typed view of a .hub session export. Messages are used for display
// only; the backend rebuilds the authoritative transcript on import.
type HubFile struct {
	Version  string          `json:"version"`
	ClientID string          `json:"clientId"`
	ChatID   string          `json:"chatId"`
	Messages []HubMessage    `json:"messages"`
	Settings HubSettings     `json:"settings"`
	Metadata HubFileMetadata `json:"metadata"`
}

// HubMessage is a message-like record inside a .hub file.
type HubMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// HubSettings snapshots the client settings at export time.
type HubSettings struct {
	Model  string         `json:"model"`
	Search SearchSettings `json:"search"`
}

// HubFileMetadata describes the exported session.
type HubFileMetadata struct {
	Created      string `json:"created"`
	LastModified string `json:"lastModified"`
	Title        string `json:"title"`
	MessageCount int    `json:"messageCount"`
}
