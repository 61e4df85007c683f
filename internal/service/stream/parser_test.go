package stream

import (
	"strings"
	"testing"
)

func feedAll(fragments []string) Split {
	p := NewParser()
	for _, f := range fragments {
		p.Feed(f)
	}
	return p.Finish()
}

func thinkingOf(s Split) string {
	if s.Thinking == nil {
		return "<nil>"
	}
	return *s.Thinking
}

func TestParserSplitAcrossFragments(t *testing.T) {
	got := feedAll([]string{"<thi", "nk>reasoning", "</think> answer"})
	if got.Thinking == nil || *got.Thinking != "reasoning" {
		t.Fatalf("expected thinking %q, got %s", "reasoning", thinkingOf(got))
	}
	if got.Content != "answer" {
		t.Fatalf("expected content %q, got %q", "answer", got.Content)
	}
}

func TestParserTagSplitAtEveryBoundary(t *testing.T) {
	raw := "<think>plan the reply</think>Final answer."
	want := SplitText(raw)

	for i := 1; i < len(raw); i++ {
		got := feedAll([]string{raw[:i], raw[i:]})
		if got.Content != want.Content || thinkingOf(got) != thinkingOf(want) {
			t.Fatalf("split at %d: got (%q, %s), want (%q, %s)", i, got.Content, thinkingOf(got), want.Content, thinkingOf(want))
		}
	}
}

func TestParserIncrementalMatchesOneShot(t *testing.T) {
	inputs := []string{
		"plain answer with no tags",
		"<think>a</think>x<think>b</think>y",
		"before <think>inside",
		"<think></think>",
		"3 < 4 and </thi is not a tag",
		"<think>only thoughts</think>",
		"ends with partial <thi",
	}

	for _, raw := range inputs {
		want := SplitText(raw)
		// byte-at-a-time is the worst case for delimiter straddling
		fragments := strings.Split(raw, "")
		got := feedAll(fragments)
		if got.Content != want.Content || thinkingOf(got) != thinkingOf(want) {
			t.Fatalf("%q: incremental (%q, %s) != one-shot (%q, %s)", raw, got.Content, thinkingOf(got), want.Content, thinkingOf(want))
		}
	}
}

func TestParserMultipleBlocksKeepTextBetween(t *testing.T) {
	got := SplitText("<think>first</think>Hello <think>second</think>world")
	if got.Content != "Hello world" {
		t.Fatalf("unexpected content %q", got.Content)
	}
	if thinkingOf(got) != "first"+blockSeparator+"second" {
		t.Fatalf("unexpected thinking %q", thinkingOf(got))
	}
}

func TestParserThinkingOnlyUsesPlaceholder(t *testing.T) {
	got := SplitText("<think>just pondering</think>   ")
	if got.Content != ThinkingOnlyPlaceholder {
		t.Fatalf("expected placeholder, got %q", got.Content)
	}
}

func TestParserEmptyBlockIsPresent(t *testing.T) {
	got := SplitText("<think></think>ok")
	if got.Thinking == nil {
		t.Fatal("expected thinking to be present")
	}
	if *got.Thinking != "" {
		t.Fatalf("expected empty thinking, got %q", *got.Thinking)
	}
	if got.Content != "ok" {
		t.Fatalf("unexpected content %q", got.Content)
	}
}

func TestParserNoTagMeansAbsentThinking(t *testing.T) {
	got := SplitText("hello")
	if got.Thinking != nil {
		t.Fatalf("expected nil thinking, got %q", *got.Thinking)
	}
}

func TestParserUnclosedBlockHidesInnerText(t *testing.T) {
	got := feedAll([]string{"<think>still ", "thinking"})
	if got.Content != "" {
		t.Fatalf("expected no visible text, got %q", got.Content)
	}
	if thinkingOf(got) != "still thinking" {
		t.Fatalf("unexpected thinking %q", thinkingOf(got))
	}

	got = feedAll([]string{"intro ", "<think>still thinking"})
	if got.Content != "intro" {
		t.Fatalf("expected only outside text, got %q", got.Content)
	}
	if thinkingOf(got) != "still thinking" {
		t.Fatalf("unexpected thinking %q", thinkingOf(got))
	}
}

func TestParserSnapshotHoldsPartialTag(t *testing.T) {
	p := NewParser()
	p.Feed("answer <th")
	if snap := p.Snapshot(); snap.Content != "answer" {
		t.Fatalf("expected partial tag held back, got %q", snap.Content)
	}
	if fin := p.Finish(); fin.Content != "answer <th" {
		t.Fatalf("expected partial tag flushed on finish, got %q", fin.Content)
	}
}

func TestPartialSuffix(t *testing.T) {
	cases := []struct {
		buf  string
		tag  string
		want int
	}{
		{buf: "abc", tag: OpenTag, want: 0},
		{buf: "abc<", tag: OpenTag, want: 1},
		{buf: "abc<thin", tag: OpenTag, want: 5},
		{buf: "<think", tag: OpenTag, want: 6},
		{buf: "</", tag: CloseTag, want: 2},
		{buf: "", tag: CloseTag, want: 0},
	}

	for _, tc := range cases {
		if got := partialSuffix(tc.buf, tc.tag); got != tc.want {
			t.Fatalf("partialSuffix(%q, %q) = %d, want %d", tc.buf, tc.tag, got, tc.want)
		}
	}
}
