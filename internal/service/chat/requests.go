package chat

import (
	"context"
	"fmt"
	"io"

	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/api"
	"github.com/zhouzirui/hubchat/internal/service/hub"
)

// Export asks the backend for the .hub record of a session and writes it to the
// sink. It returns the path the sink reported.
func (s *Store) Export(ctx context.Context, id, title string) (string, error) {
	sess, release, err := s.reserve(id)
	if err != nil {
		return "", err
	}
	defer release()

	frame, err := s.request(ctx, sess, protocol.TypeHubExportResponse, protocol.HubExport(id, title))
	if err != nil {
		return "", err
	}
	resp := frame.(protocol.HubExportResponse)
	if !resp.Success {
		return "", failure(ErrExportFailed, resp.Error)
	}

	if title == "" {
		title = sess.info.Name
	}
	path, err := hub.Export(s.opts.Sink, title, resp.Data, s.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return path, nil
}

// Import validates a .hub file, re-homes it to session id and forwards it to the
// backend. Invalid files are rejected before anything is sent.
func (s *Store) Import(ctx context.Context, id string, data []byte) error {
	sess, release, err := s.reserve(id)
	if err != nil {
		return err
	}
	defer release()

	record, err := hub.PrepareImport(data, id)
	if err != nil {
		return err
	}

	frame, err := s.request(ctx, sess, protocol.TypeHubImportResponse, protocol.HubImport(record, id))
	if err != nil {
		return err
	}
	resp := frame.(protocol.HubImportResponse)
	if !resp.Success {
		return failure(ErrImportFailed, resp.Error)
	}

	// the backend transcript is authoritative after an import
	return s.send(sess, protocol.GetConversationHistory(id))
}

// ScanFolder asks the backend to index a folder on its host.
func (s *Store) ScanFolder(ctx context.Context, id, path string, force bool) (protocol.FolderScanResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return protocol.FolderScanResult{}, err
	}

	frame, err := s.request(ctx, sess, protocol.TypeFolderScanResult, protocol.ScanFolder(path, force))
	if err != nil {
		return protocol.FolderScanResult{}, err
	}
	result := frame.(protocol.FolderScanResult)
	if !result.Success {
		return result, failure(ErrScanFailed, result.Error)
	}
	return result, nil
}

// SystemInfo asks the backend for its host capabilities.
func (s *Store) SystemInfo(ctx context.Context, id string) (protocol.SystemSpecs, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return protocol.SystemSpecs{}, err
	}

	frame, err := s.request(ctx, sess, protocol.TypeSystemInfo, protocol.GetSystemInfo())
	if err != nil {
		return protocol.SystemSpecs{}, err
	}
	return frame.(protocol.SystemInfo).Specs, nil
}

// UploadFile uploads a document for session id and waits until it is processed.
func (s *Store) UploadFile(ctx context.Context, id, name string, r io.Reader) (api.UploadedFile, error) {
	if s.opts.API == nil {
		return api.UploadedFile{}, ErrNoAPI
	}
	if _, err := s.lookup(id); err != nil {
		return api.UploadedFile{}, err
	}

	file, err := s.opts.API.UploadFile(ctx, name, r, id)
	if err != nil {
		return api.UploadedFile{}, err
	}
	return s.opts.API.WaitProcessed(ctx, id, file.ID)
}

// Memory returns what the backend remembers about session id.
func (s *Store) Memory(ctx context.Context, id string) (api.Memory, error) {
	if s.opts.API == nil {
		return api.Memory{}, ErrNoAPI
	}
	if _, err := s.lookup(id); err != nil {
		return api.Memory{}, err
	}
	return s.opts.API.GetMemory(ctx, id)
}

// Summary returns the running summary of session id.
func (s *Store) Summary(ctx context.Context, id string) (string, error) {
	if s.opts.API == nil {
		return "", ErrNoAPI
	}
	if _, err := s.lookup(id); err != nil {
		return "", err
	}
	return s.opts.API.GetSummary(ctx, id)
}

// reserve marks an idle session busy until release is called, so no message can
// be sent while a hub exchange waits for its response.
func (s *Store) reserve(id string) (*session, func(), error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.loading || sess.exchanging || sess.recon.InFlight() {
		return nil, nil, ErrBusy
	}
	sess.exchanging = true
	release := func() {
		s.mu.Lock()
		sess.exchanging = false
		s.mu.Unlock()
	}
	return sess, release, nil
}

// request sends req and waits for the next frame of type want.
func (s *Store) request(ctx context.Context, sess *session, want string, req any) (protocol.Frame, error) {
	ch := make(chan protocol.Frame, 1)
	s.mu.Lock()
	sess.waiters[want] = append(sess.waiters[want], ch)
	s.mu.Unlock()
	defer s.dropWaiter(sess, want, ch)

	if err := s.send(sess, req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ResponseTimeout)
	defer cancel()
	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", want, ctx.Err())
	}
}

func (s *Store) dropWaiter(sess *session, want string, ch chan protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := sess.waiters[want]
	for i, c := range queue {
		if c == ch {
			sess.waiters[want] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

func failure(base error, detail string) error {
	if detail == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, detail)
}
