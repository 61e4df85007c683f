package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	model "github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/service/chat"
	"github.com/zhouzirui/hubchat/internal/service/tts"
)

var errNoSession = errors.New("no active session, use /new")

// sessionCommands act on the active session.
var sessionCommands = map[string]bool{
	"models": true, "model": true, "search": true, "attach": true,
	"save": true, "load": true, "upload": true, "memory": true,
	"summary": true, "speak": true, "history": true, "refresh": true,
	"scan": true, "sysinfo": true,
}

const helpText = `commands:
  /new [name]            start a session
  /sessions              list sessions
  /switch <n|id>         switch the active session
  /close [n|id]          close a session and forget it
  /models                list models offered by the backend
  /model <name>          select a model
  /search [on|off|type <t>|count <n>|summary on|off]
  /attach <file>         attach a text file to the next message
  /save [title]          export the session as a .hub file
  /load <file>           import a .hub file into the session
  /upload <file>         upload a document to the http api
  /memory                show what the backend remembers
  /summary               show the conversation summary
  /speak [text]          read text or the last reply aloud
  /history               print the transcript
  /refresh               reload the transcript from the backend
  /scan <path> [force]   index a folder on the backend host
  /sysinfo               show backend host capabilities
  /quit`

type repl struct {
	store     *chat.Store
	speaker   *tts.Client
	out       io.Writer
	exportDir string
	staged    []model.FileInfo
}

// run reads lines from next until it fails, /quit or ctx is done. io.EOF and an
// aborted prompt end the loop without error.
func (r *repl) run(ctx context.Context, next func() (string, error)) error {
	type input struct {
		line string
		err  error
	}
	lines := make(chan input)
	go func() {
		defer close(lines)
		for {
			line, err := next()
			select {
			case lines <- input{line, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-lines:
			if !ok {
				return nil
			}
			if in.err != nil {
				if errors.Is(in.err, io.EOF) || errors.Is(in.err, liner.ErrPromptAborted) {
					return nil
				}
				return in.err
			}
			quit, err := r.exec(ctx, in.line)
			if err != nil {
				fmt.Fprintf(r.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// exec runs one input line. Lines without a leading slash are sent as messages.
func (r *repl) exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case "new":
		info, err := r.store.CreateSession(ctx, arg)
		if err != nil {
			return false, err
		}
		if err := r.store.SetActive(info.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "session %s (%s)\n", info.Name, info.ID)
		return false, nil
	case "sessions":
		return false, r.listSessions()
	case "switch":
		info, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := r.store.SetActive(info.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "switched to %s\n", info.Name)
		return false, nil
	case "close":
		info, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		return false, r.store.CloseSession(ctx, info.ID, true)
	}

	if !sessionCommands[cmd] {
		return false, fmt.Errorf("unknown command /%s, try /help", cmd)
	}
	id, err := r.activeID()
	if err != nil {
		return false, err
	}

	switch cmd {
	case "models":
		st, err := r.store.Status(id)
		if err != nil {
			return false, err
		}
		for _, m := range st.Models {
			mark := " "
			if m.Name == st.Model {
				mark = "*"
			}
			fmt.Fprintf(r.out, "%s %s (%.1f GB, needs %.1f GB RAM)\n", mark, m.Name, m.SizeGB, m.RAMRequirement)
		}
	case "model":
		if arg == "" {
			return false, errors.New("usage: /model <name>")
		}
		return false, r.store.SelectModel(id, arg)
	case "search":
		return false, r.search(id, arg)
	case "attach":
		file, err := readAttachment(arg)
		if err != nil {
			return false, err
		}
		r.staged = append(r.staged, file)
		fmt.Fprintf(r.out, "attached %s (%d staged)\n", file.Name, len(r.staged))
	case "save":
		path, err := r.store.Export(ctx, id, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "saved %s\n", path)
	case "load":
		data, err := os.ReadFile(arg)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", arg, err)
		}
		if err := r.store.Import(ctx, id, data); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "imported %s\n", filepath.Base(arg))
	case "upload":
		f, err := os.Open(arg)
		if err != nil {
			return false, fmt.Errorf("open %s: %w", arg, err)
		}
		defer f.Close()
		file, err := r.store.UploadFile(ctx, id, filepath.Base(arg), f)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "uploaded %s (%s)\n", file.Name, file.ID)
	case "memory":
		mem, err := r.store.Memory(ctx, id)
		if err != nil {
			return false, err
		}
		if mem.Empty() {
			fmt.Fprintln(r.out, "(no memory yet)")
			break
		}
		fmt.Fprintf(r.out, "short-term messages: %d\n", mem.ShortTermCount)
		if len(mem.LongTermTopics) > 0 {
			fmt.Fprintf(r.out, "topics: %s\n", strings.Join(mem.LongTermTopics, ", "))
		}
		for kind, facts := range mem.Facts {
			fmt.Fprintf(r.out, "%s: %s\n", kind, strings.Join(facts, ", "))
		}
	case "summary":
		summary, err := r.store.Summary(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, summary)
	case "speak":
		return false, r.speak(ctx, id, arg)
	case "history":
		return false, r.history(id)
	case "refresh":
		return false, r.store.RefreshHistory(id)
	case "scan":
		path, flag, _ := strings.Cut(arg, " ")
		result, err := r.store.ScanFolder(ctx, id, path, strings.TrimSpace(flag) == "force")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "scanned %d files in %s\n", len(result.Files), result.FolderPath)
	case "sysinfo":
		specs, err := r.store.SystemInfo(ctx, id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s, %d cores/%d threads, %.1f GB RAM (%.1f GB free), gpu=%t\n",
			specs.Platform, specs.PlatformVersion, specs.CPUCores, specs.CPUThreads, specs.MemoryGB, specs.MemoryAvailableGB, specs.HasGPU)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	id, err := r.activeID()
	if err != nil {
		return err
	}
	if err := r.store.SendMessage(ctx, id, text, r.staged); err != nil {
		return err
	}
	r.staged = nil
	return nil
}

func (r *repl) activeID() (string, error) {
	info, ok := r.store.Active()
	if !ok {
		return "", errNoSession
	}
	return info.ID, nil
}

// resolve finds a session by 1-based position or id prefix. An empty ref means
// the active session.
func (r *repl) resolve(ref string) (model.Session, error) {
	if ref == "" {
		info, ok := r.store.Active()
		if !ok {
			return model.Session{}, errNoSession
		}
		return info, nil
	}

	sessions := r.store.Sessions()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1], nil
	}
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, ref) {
			return s, nil
		}
	}
	return model.Session{}, fmt.Errorf("%w: %s", chat.ErrSessionNotFound, ref)
}

func (r *repl) listSessions() error {
	active, _ := r.store.Active()
	for i, info := range r.store.Sessions() {
		st, err := r.store.Status(info.ID)
		if err != nil {
			return err
		}
		mark := " "
		if info.ID == active.ID {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s [%s] %d messages, model=%s\n", mark, i+1, info.Name, st.State, st.Messages, st.Model)
	}
	return nil
}

func (r *repl) search(id, arg string) error {
	st, err := r.store.Status(id)
	if err != nil {
		return err
	}
	settings := st.Search

	fields := strings.Fields(arg)
	switch {
	case len(fields) == 0:
		fmt.Fprintf(r.out, "web search=%t type=%s count=%d summary=%t\n",
			settings.WebSearchEnabled, settings.SearchType, settings.ResultsCount, settings.ShowSummary)
		return nil
	case fields[0] == "on" || fields[0] == "off":
		settings.WebSearchEnabled = fields[0] == "on"
	case fields[0] == "type" && len(fields) == 2:
		if settings.SearchType, err = model.ParseSearchType(fields[1]); err != nil {
			return err
		}
	case fields[0] == "count" && len(fields) == 2:
		if settings.ResultsCount, err = strconv.Atoi(fields[1]); err != nil {
			return fmt.Errorf("invalid count %q", fields[1])
		}
	case fields[0] == "summary" && len(fields) == 2:
		settings.ShowSummary = fields[1] == "on"
	default:
		return errors.New("usage: /search [on|off|type <t>|count <n>|summary on|off]")
	}
	return r.store.SetSearch(id, settings)
}

func (r *repl) history(id string) error {
	messages, err := r.store.Messages(id)
	if err != nil {
		return err
	}
	for _, m := range messages {
		fmt.Fprintf(r.out, "%s> ", m.Role)
		if m.HasThinking() {
			fmt.Fprintf(r.out, "%s\n   ", faint(m.Thinking()))
		}
		fmt.Fprintln(r.out, m.Content)
	}
	return nil
}

func (r *repl) speak(ctx context.Context, id, text string) error {
	if r.speaker == nil {
		return errors.New("tts is not configured")
	}
	if text == "" {
		messages, err := r.store.Messages(id)
		if err != nil {
			return err
		}
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == model.RoleAssistant && !messages[i].Error {
				text = messages[i].Content
				break
			}
		}
	}

	audio, err := r.speaker.Speak(ctx, text)
	if err != nil {
		return err
	}
	if len(audio.Data) == 0 {
		fmt.Fprintln(r.out, "playing on backend")
		return nil
	}

	ext := ".audio"
	if exts, _ := mime.ExtensionsByType(audio.ContentType); len(exts) > 0 {
		ext = exts[0]
	}
	path := filepath.Join(r.exportDir, fmt.Sprintf("speech-%d%s", time.Now().Unix(), ext))
	if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
		return fmt.Errorf("save audio: %w", err)
	}
	fmt.Fprintf(r.out, "audio saved to %s\n", path)
	return nil
}

// readAttachment loads a text file as message context.
func readAttachment(path string) (model.FileInfo, error) {
	if path == "" {
		return model.FileInfo{}, errors.New("usage: /attach <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FileInfo{}, fmt.Errorf("read %s: %w", path, err)
	}

	kind := mime.TypeByExtension(filepath.Ext(path))
	if kind == "" {
		kind = "text/plain"
	}
	return model.FileInfo{Name: filepath.Base(path), Type: kind, Content: string(data)}, nil
}
