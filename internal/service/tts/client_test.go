package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speakRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Text != "hello" {
			t.Errorf("unexpected text %q", req.Text)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	audio, err := NewClient(srv.URL, nil).Speak(context.Background(), "  hello ")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if string(audio.Data) != "RIFF" || audio.ContentType != "audio/wav" {
		t.Fatalf("unexpected audio %+v", audio)
	}
}

func TestSpeakFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Speak(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := c.Speak(context.Background(), "hi"); err == nil {
		t.Fatal("expected status failure")
	}
}

func TestSpeakPlayedOnBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("fail") != "" {
			w.Write([]byte(`{"success":false,"error":"no audio device"}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	audio, err := NewClient(srv.URL, nil).Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if len(audio.Data) != 0 {
		t.Fatalf("expected no audio payload, got %d bytes", len(audio.Data))
	}

	if _, err := NewClient(srv.URL+"?fail=1", nil).Speak(context.Background(), "hello"); !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}
