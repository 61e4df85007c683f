package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/ai"
)

const (
	maxScanFiles    = 200
	maxScanFileSize = 256 << 10
)

var skippedDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true, "__pycache__": true}

// Search returns canned results for a query. No network is involved.
func Search(query string, kind chat.SearchType, count int) []chat.SearchResult {
	query = strings.TrimSpace(query)
	if query == "" || count <= 0 {
		return nil
	}
	if kind == "" {
		kind = chat.SearchText
	}

	out := make([]chat.SearchResult, 0, count)
	for i := 1; i <= count; i++ {
		link := fmt.Sprintf("https://example.com/%s/%d?q=%s", kind, i, url.QueryEscape(query))
		r := chat.SearchResult{
			Type:    string(kind),
			Title:   fmt.Sprintf("%s result %d for %q", kind, i, query),
			Link:    link,
			Snippet: "Placeholder result for " + query,
		}
		switch kind {
		case chat.SearchNews:
			r.Source, r.Date = "example news", "today"
		case chat.SearchImages:
			r.Image, r.Thumbnail = link+"&full=1", link+"&thumb=1"
		case chat.SearchVideos:
			r.Duration = fmt.Sprintf("%d:00", i+2)
		}
		out = append(out, r)
	}
	return out
}

// Summarize condenses search results into one line.
func Summarize(results []chat.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	titles := make([]string, 0, len(results))
	for _, r := range results {
		titles = append(titles, r.Title)
	}
	return fmt.Sprintf("%d results: %s", len(results), strings.Join(titles, "; "))
}

// SystemSpecs reports what Go can see of the host.
func SystemSpecs() protocol.SystemSpecs {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sysGB := float64(mem.Sys) / (1 << 30)

	return protocol.SystemSpecs{
		MemoryGB:          sysGB,
		MemoryAvailableGB: float64(mem.Sys-mem.HeapInuse) / (1 << 30),
		CPUCores:          runtime.NumCPU(),
		CPUThreads:        runtime.GOMAXPROCS(0),
		Platform:          runtime.GOOS,
		PlatformVersion:   runtime.Version(),
		Processor:         runtime.GOARCH,
		GPUs:              []protocol.GPUInfo{},
	}
}

// ScanFolder reads the text files under root.
func ScanFolder(root string) protocol.FolderScanResult {
	root = strings.TrimSpace(root)
	if root == "" {
		return protocol.FolderScanResult{Success: false, Error: "folder path is required"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return protocol.FolderScanResult{Success: false, FolderPath: root, Error: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return protocol.FolderScanResult{Success: false, FolderPath: root, Error: err.Error()}
	}
	if !info.IsDir() {
		return protocol.FolderScanResult{Success: false, FolderPath: root, Error: "not a directory"}
	}

	var files []protocol.ScannedFile
	errStop := errors.New("scan limit reached")
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != abs && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxScanFiles {
			return errStop
		}
		fi, err := d.Info()
		if err != nil || fi.Size() > maxScanFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			return nil
		}
		rel, _ := filepath.Rel(abs, path)
		files = append(files, protocol.ScannedFile{
			Name:     d.Name(),
			Path:     filepath.ToSlash(rel),
			FullPath: path,
			Type:     strings.TrimPrefix(filepath.Ext(path), "."),
			Content:  string(data),
			Language: ai.LanguageOf(d.Name()),
		})
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errStop) {
		return protocol.FolderScanResult{Success: false, FolderPath: root, Error: walkErr.Error()}
	}
	return protocol.FolderScanResult{Success: true, FolderPath: abs, Files: files}
}
