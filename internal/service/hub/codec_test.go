package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const exported = `{"version":"1.0","clientId":"client-a","chatId":"old-chat",` +
	`"messages":[{"role":"user","content":"hi <b>","timestamp":"2024-05-01 10:30:00"}],` +
	`"settings":{"model":"llama3","search":{"webSearchEnabled":true,"searchType":"text","showSummary":false,"resultsCount":3}},` +
	`"metadata":{"created":"2024-05-01T10:30:00","lastModified":"2024-05-01T10:31:00","title":"Trip plan","messageCount":1}}`

func fieldMap(t *testing.T, data []byte) (map[string]string, []string) {
	t.Helper()
	fields, err := readObject(data)
	require.NoError(t, err)

	values := make(map[string]string, len(fields))
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		var compact bytes.Buffer
		require.NoError(t, json.Compact(&compact, f.value))
		values[f.key] = compact.String()
		keys = append(keys, f.key)
	}
	return values, keys
}

func TestFileName(t *testing.T) {
	now := time.Unix(1714559400, 0)
	cases := []struct {
		title string
		want  string
	}{
		{title: "Trip plan", want: "Trip_plan.hub"},
		{title: "  What's   up?\tnow ", want: "Whats_up_now.hub"},
		{title: "a/b\\c:d", want: "abcd.hub"},
		{title: "snake_case ok", want: "snake_case_ok.hub"},
		{title: "!!!", want: "chat-1714559400.hub"},
		{title: "", want: "chat-1714559400.hub"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, FileName(tc.title, now), "title %q", tc.title)
	}
}

func TestEncodePreservesRecord(t *testing.T) {
	out, err := Encode(json.RawMessage(exported))
	require.NoError(t, err)
	require.Contains(t, string(out), "\n  \"version\": \"1.0\"")

	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, out))
	require.Equal(t, exported, compact.String())

	_, err = Encode(nil)
	require.ErrorIs(t, err, ErrEmptyRecord)
	_, err = Encode(json.RawMessage("null"))
	require.ErrorIs(t, err, ErrEmptyRecord)
}

func TestRoundTripRehomesChat(t *testing.T) {
	file, err := Encode(json.RawMessage(exported))
	require.NoError(t, err)

	prepared, err := PrepareImport(file, "new-chat")
	require.NoError(t, err)

	before, beforeKeys := fieldMap(t, []byte(exported))
	after, afterKeys := fieldMap(t, prepared)

	require.Equal(t, beforeKeys, afterKeys, "field order must be kept")
	require.Equal(t, `"new-chat"`, after["chatId"])
	for key, value := range before {
		if key == "chatId" {
			continue
		}
		require.Equal(t, value, after[key], "field %s changed", key)
	}
}

func TestPrepareImportAddsMissingChatID(t *testing.T) {
	prepared, err := PrepareImport([]byte(`{"version":"1.0","messages":[]}`), "c1")
	require.NoError(t, err)
	require.JSONEq(t, `{"version":"1.0","messages":[],"chatId":"c1"}`, string(prepared))
}

func TestPrepareImportRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no version":    `{"messages":[]}`,
		"empty version": `{"version":"","messages":[]}`,
		"no messages":   `{"version":"1.0"}`,
		"null messages": `{"version":"1.0","messages":null}`,
		"not json":      `version: 1.0`,
		"array":         `[{"version":"1.0","messages":[]}]`,
		"trailing":      `{"version":"1.0","messages":[]} {}`,
	}

	for name, input := range cases {
		_, err := PrepareImport([]byte(input), "c1")
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrInvalidHubFile), "%s: %v", name, err)
	}
}

func TestParse(t *testing.T) {
	file, err := Parse([]byte(exported))
	require.NoError(t, err)
	require.Equal(t, "1.0", file.Version)
	require.Equal(t, "Trip plan", file.Metadata.Title)
	require.Len(t, file.Messages, 1)
	require.Equal(t, "hi <b>", file.Messages[0].Content)
	require.Equal(t, 3, file.Settings.Search.ResultsCount)

	_, err = Parse([]byte(`{"messages":[]}`))
	require.ErrorIs(t, err, ErrInvalidHubFile)
}

func TestDirSinkWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	sink := DirSink{Dir: dir}

	path, err := Export(sink, "Trip plan", []byte(exported), time.Now())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Trip_plan.hub"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = PrepareImport(data, "other")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
}

func TestDirSinkFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	// a directory in the way makes the final rename fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, "taken.hub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken.hub", "keep"), []byte("x"), 0o644))

	_, err := DirSink{Dir: dir}.Save("taken.hub", []byte("{}"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "taken.hub", entries[0].Name())
}
