package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a single JSON frame into its typed variant.
func Decode(line []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var frame Frame
	switch env.Type {
	case TypeStream:
		frame = &StreamFrame{}
	case TypeComplete:
		frame = &CompleteFrame{}
	case TypeModels:
		frame = &ModelsFrame{}
	case TypeError:
		frame = &ErrorFrame{}
	case TypeHubImportResponse:
		frame = &HubImportResponse{}
	case TypeHubExportResponse:
		frame = &HubExportResponse{}
	case TypeConversationHistory:
		frame = &ConversationHistory{}
	case TypeFolderScanResult:
		frame = &FolderScanResult{}
	case TypeSystemInfo:
		frame = &SystemInfo{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}

	if err := json.Unmarshal(line, frame); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return deref(frame), nil
}

// deref hands out value types so frames cannot be mutated through shared pointers.
func deref(frame Frame) Frame {
	switch f := frame.(type) {
	case *StreamFrame:
		return *f
	case *CompleteFrame:
		return *f
	case *ModelsFrame:
		return *f
	case *ErrorFrame:
		return *f
	case *HubImportResponse:
		return *f
	case *HubExportResponse:
		return *f
	case *ConversationHistory:
		return *f
	case *FolderScanResult:
		return *f
	case *SystemInfo:
		return *f
	}
	return frame
}

// DecodeAll splits a newline-delimited payload and decodes each non-empty line.
// Lines that fail are reported in errs and skipped.
func DecodeAll(payload []byte) (frames []Frame, errs []error) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		frame, err := Decode(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames, errs
}

// Encode marshals a request as one newline-terminated JSON line.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeFrame marshals a server frame with its type tag, the form Decode reads.
func EncodeFrame(frame Frame) ([]byte, error) {
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frame.FrameType(), err)
	}
	tag, _ := json.Marshal(frame.FrameType())

	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// ToMessage converts a backend transcript row into a display message.
func (h HistoryMessage) ToMessage(id string) chat.Message {
	return chat.Message{
		ID:              id,
		Role:            h.Role,
		Content:         h.Content,
		ThinkingContent: h.ThinkingContent,
		Timestamp:       ParseTimestamp(h.Timestamp),
		Files:           h.Files,
		SearchResults:   h.SearchResults,
		SearchSummary:   h.SearchSummary,
		Model:           h.Model,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC3339 / SQL-style strings and unix seconds or
// milliseconds. Unparseable values yield the zero time.
func ParseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		return time.Time{}
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fromUnix(f)
	}
	return time.Time{}
}

func fromUnix(f float64) time.Time {
	// values past year 33658 in seconds are treated as milliseconds
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
