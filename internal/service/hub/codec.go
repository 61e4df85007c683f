// Package hub converts between backend session exports and .hub files.
//
// The backend owns the record: export writes whatever it sends back, import only
// checks the required fields and re-homes the record before forwarding it.
package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

const (
	// Extension is appended to every exported file name.
	Extension = ".hub"
	// DefaultPrefix names exports that have no usable title.
	DefaultPrefix = "chat-"
)

var (
	// ErrInvalidHubFile is returned when a file lacks version or messages.
	ErrInvalidHubFile = errors.New("invalid .hub file format")
	// ErrEmptyRecord is returned when the backend export carried no data.
	ErrEmptyRecord = errors.New("empty hub record")
)

var (
	nonWordPattern    = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// FileName derives a filesystem-safe name from a display title.
func FileName(title string, now time.Time) string {
	name := nonWordPattern.ReplaceAllString(title, "")
	name = strings.TrimSpace(name)
	name = whitespacePattern.ReplaceAllString(name, "_")
	if name == "" {
		name = DefaultPrefix + strconv.FormatInt(now.Unix(), 10)
	}
	return name + Extension
}

// Encode renders the backend record as indented UTF-8 JSON. Key order and values
// are preserved.
func Encode(record json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(record)) == 0 || bytes.Equal(bytes.TrimSpace(record), []byte("null")) {
		return nil, ErrEmptyRecord
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, record, "", "  "); err != nil {
		return nil, fmt.Errorf("encode hub record: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type field struct {
	key   string
	value json.RawMessage
}

// PrepareImport validates a .hub file and sets its chatId to chatID. Every other
// top-level field keeps its original bytes and position.
func PrepareImport(data []byte, chatID string) (json.RawMessage, error) {
	fields, err := readObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHubFile, err)
	}
	if err := validate(fields); err != nil {
		return nil, err
	}

	id, err := json.Marshal(chatID)
	if err != nil {
		return nil, fmt.Errorf("encode chat id: %w", err)
	}

	replaced := false
	for i := range fields {
		if fields[i].key == "chatId" {
			fields[i].value = id
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, field{key: "chatId", value: id})
	}
	return writeObject(fields), nil
}

// Parse decodes the typed view of a .hub file after the same validation as
// PrepareImport.
func Parse(data []byte) (chat.HubFile, error) {
	fields, err := readObject(data)
	if err != nil {
		return chat.HubFile{}, fmt.Errorf("%w: %v", ErrInvalidHubFile, err)
	}
	if err := validate(fields); err != nil {
		return chat.HubFile{}, err
	}

	var file chat.HubFile
	if err := json.Unmarshal(data, &file); err != nil {
		return chat.HubFile{}, fmt.Errorf("%w: %v", ErrInvalidHubFile, err)
	}
	return file, nil
}

func validate(fields []field) error {
	var version, messages json.RawMessage
	for _, f := range fields {
		switch f.key {
		case "version":
			version = f.value
		case "messages":
			messages = f.value
		}
	}
	if !truthy(version) {
		return fmt.Errorf("%w: missing version", ErrInvalidHubFile)
	}
	if !truthy(messages) {
		return fmt.Errorf("%w: missing messages", ErrInvalidHubFile)
	}
	return nil
}

// truthy rejects absent, null, false, zero and empty-string values.
func truthy(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

// readObject splits a JSON object into its top-level fields in document order.
func readObject(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("top level is not an object")
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func writeObject(fields []field) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
