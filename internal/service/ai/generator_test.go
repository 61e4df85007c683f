package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/stream"
)

func drain(t *testing.T, g Generator, req Request) []string {
	t.Helper()
	reader, err := g.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer reader.Close()

	var chunks []string
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		chunks = append(chunks, msg.Content)
	}
}

func TestEchoGeneratorSplitsThinkingTags(t *testing.T) {
	chunks := drain(t, EchoGenerator{}, Request{Model: "llama3", Query: "hello"})
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if strings.Contains(c, stream.OpenTag) {
			t.Fatalf("open tag should straddle chunks, found whole in %q", c)
		}
	}

	split := stream.SplitText(strings.Join(chunks, ""))
	if split.Content != "Echo from llama3: hello" {
		t.Fatalf("unexpected visible content %q", split.Content)
	}
	if split.Thinking == nil || *split.Thinking != "Considering: hello" {
		t.Fatalf("unexpected thinking %v", split.Thinking)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt(PromptContext{
		Files:         []chat.FileInfo{{Name: "main.go", Content: "package main"}},
		SearchResults: []chat.SearchResult{{Title: "T", Link: "https://example.com"}},
	})

	for _, want := range []string{DefaultSystemPrompt, "```go\npackage main\n```", "URL: https://example.com"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestHistoryMessagesKeepsRecent(t *testing.T) {
	var messages []protocol.HistoryMessage
	for i := 0; i < historyLimit+4; i++ {
		messages = append(messages, protocol.HistoryMessage{Role: chat.RoleUser, Content: string(rune('a' + i))})
	}
	messages = append(messages, protocol.HistoryMessage{Role: chat.RoleSystem, Content: "ignored"})

	history := HistoryMessages(messages)
	if len(history) != historyLimit-1 {
		t.Fatalf("expected %d messages, got %d", historyLimit-1, len(history))
	}
	if history[len(history)-1].Content != string(rune('a'+historyLimit+3)) {
		t.Fatalf("unexpected last message %q", history[len(history)-1].Content)
	}
}

func TestLanguageOf(t *testing.T) {
	cases := map[string]string{"a.GO": "go", "b.tsx": "tsx", "Makefile": "", "c.unknown": ""}
	for name, want := range cases {
		if got := LanguageOf(name); got != want {
			t.Fatalf("LanguageOf(%q) = %q, want %q", name, got, want)
		}
	}
}
