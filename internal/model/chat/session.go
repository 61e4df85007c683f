package chat

import "time"

// Session captures one conversation as the client knows it. The transcript itself
// lives on the backend.
type Session struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}
