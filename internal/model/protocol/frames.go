package protocol

import (
	"encoding/json"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

// Server→client frame type tags.
const (
	TypeStream              = "stream"
	TypeComplete            = "complete"
	TypeModels              = "models"
	TypeError               = "error"
	TypeHubImportResponse   = "hub_import_response"
	TypeHubExportResponse   = "hub_export_response"
	TypeConversationHistory = "conversation_history"
	TypeFolderScanResult    = "folder_scan_result"
	TypeSystemInfo          = "system_info"
)

// Frame is one decoded server→client message.
type Frame interface {
	FrameType() string
}

// StreamFrame carries one fragment of model output.
type StreamFrame struct {
	Content string `json:"content"`
}

// CompleteFrame ends the in-flight stream and carries enrichment data.
type CompleteFrame struct {
	Content       string              `json:"content,omitempty"`
	MessageID     string              `json:"message_id,omitempty"`
	SearchResults []chat.SearchResult `json:"search_results,omitempty"`
	SearchSummary string              `json:"search_summary,omitempty"`
	AudioID       string              `json:"audio_id,omitempty"`
}

// ModelInfo describes one model offered over the socket.
type ModelInfo struct {
	Name           string  `json:"name"`
	SizeGB         float64 `json:"size_gb"`
	RAMRequirement float64 `json:"ram_requirement"`
	Details        string  `json:"details,omitempty"`
	ParameterSize  string  `json:"parameter_size,omitempty"`
}

// ModelsFrame answers get_models.
type ModelsFrame struct {
	Models []ModelInfo `json:"models"`
}

// ErrorFrame is a protocol-level error; it does not close the socket.
type ErrorFrame struct {
	Message string `json:"message"`
}

// HubImportResponse acknowledges a hub_import.
type HubImportResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HubExportResponse carries the backend-built .hub record.
type HubExportResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ConversationHistory is the authoritative transcript of a chat.
type ConversationHistory struct {
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage is one transcript row as stored by the backend.
type HistoryMessage struct {
	Role            chat.Role           `json:"role"`
	Content         string              `json:"content"`
	Timestamp       json.RawMessage     `json:"timestamp,omitempty"`
	ThinkingContent *string             `json:"thinkingContent,omitempty"`
	SearchResults   []chat.SearchResult `json:"searchResults,omitempty"`
	SearchSummary   string              `json:"searchSummary,omitempty"`
	Files           []chat.FileInfo     `json:"files,omitempty"`
	Model           string              `json:"model,omitempty"`
}

// ScannedFile is one file reported by a folder scan.
type ScannedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path,omitempty"`
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// FolderScanResult answers scan_folder.
type FolderScanResult struct {
	Success    bool          `json:"success"`
	FolderPath string        `json:"folder_path,omitempty"`
	Files      []ScannedFile `json:"files,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// GPUInfo describes one accelerator on the backend host.
type GPUInfo struct {
	Name        string   `json:"name"`
	MemoryTotal *float64 `json:"memory_total,omitempty"`
	MemoryFree  *float64 `json:"memory_free,omitempty"`
}

// SystemSpecs describes the backend host.
type SystemSpecs struct {
	MemoryGB          float64   `json:"memory_gb"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	MemoryPercent     float64   `json:"memory_percent"`
	CPUCores          int       `json:"cpu_cores"`
	CPUThreads        int       `json:"cpu_threads"`
	CPUPercent        float64   `json:"cpu_percent"`
	Platform          string    `json:"platform"`
	PlatformVersion   string    `json:"platform_version"`
	Processor         string    `json:"processor"`
	GPUs              []GPUInfo `json:"gpus"`
	HasGPU            bool      `json:"has_gpu"`
	Error             string    `json:"error,omitempty"`
}

// SystemInfo answers get_system_info.
type SystemInfo struct {
	Specs SystemSpecs `json:"specs"`
}

func (StreamFrame) FrameType() string         { return TypeStream }
func (CompleteFrame) FrameType() string       { return TypeComplete }
func (ModelsFrame) FrameType() string         { return TypeModels }
func (ErrorFrame) FrameType() string          { return TypeError }
func (HubImportResponse) FrameType() string   { return TypeHubImportResponse }
func (HubExportResponse) FrameType() string   { return TypeHubExportResponse }
func (ConversationHistory) FrameType() string { return TypeConversationHistory }
func (FolderScanResult) FrameType() string    { return TypeFolderScanResult }
func (SystemInfo) FrameType() string          { return TypeSystemInfo }
