package protocol

import (
	"encoding/json"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

// Client→server request type tags.
const (
	TypeGetModels              = "get_models"
	TypeGetConversationHistory = "get_conversation_history"
	TypeHubExport              = "hub_export"
	TypeHubImport              = "hub_import"
	TypeScanFolder             = "scan_folder"
	TypeGetSystemInfo          = "get_system_info"
)

// SendRequest 自由格式的对话消息，搜索配置平铺在顶层。
type SendRequest struct {
	Message          string          `json:"message"`
	Files            []chat.FileInfo `json:"files,omitempty"`
	Model            string          `json:"model"`
	WebSearchEnabled bool            `json:"webSearchEnabled"`
	SearchType       chat.SearchType `json:"searchType"`
	ResultsCount     int             `json:"resultsCount"`
	ShowSummary      bool            `json:"showSummary"`
}

// NewSendRequest 组装一条携带搜索配置的对话消息。
func NewSendRequest(message string, files []chat.FileInfo, model string, settings chat.SearchSettings) SendRequest {
	return SendRequest{
		Message:          message,
		Files:            files,
		Model:            model,
		WebSearchEnabled: settings.WebSearchEnabled,
		SearchType:       settings.SearchType,
		ResultsCount:     settings.ResultsCount,
		ShowSummary:      settings.ShowSummary,
	}
}

// TypedRequest is a control message carrying only its type tag.
type TypedRequest struct {
	Type string `json:"type"`
}

// GetModels asks for the model list; sent as part of the connection handshake.
func GetModels() TypedRequest { return TypedRequest{Type: TypeGetModels} }

// GetSystemInfo asks for host capability data.
func GetSystemInfo() TypedRequest { return TypedRequest{Type: TypeGetSystemInfo} }

// HistoryRequest asks the backend to resend the transcript of a chat.
type HistoryRequest struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

func GetConversationHistory(chatID string) HistoryRequest {
	return HistoryRequest{Type: TypeGetConversationHistory, ChatID: chatID}
}

// HubExportRequest asks the backend to build a .hub record.
type HubExportRequest struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
	Title  string `json:"title,omitempty"`
}

func HubExport(chatID, title string) HubExportRequest {
	return HubExportRequest{Type: TypeHubExport, ChatID: chatID, Title: title}
}

// HubImportRequest forwards a validated, re-homed .hub record.
type HubImportRequest struct {
	Type    string          `json:"type"`
	HubFile json.RawMessage `json:"hubFile"`
	ChatID  string          `json:"chatId"`
}

func HubImport(hubFile json.RawMessage, chatID string) HubImportRequest {
	return HubImportRequest{Type: TypeHubImport, HubFile: hubFile, ChatID: chatID}
}

// ScanFolderRequest asks the backend to index a local folder.
type ScanFolderRequest struct {
	Type         string `json:"type"`
	FolderPath   string `json:"folder_path"`
	ForceRefresh bool   `json:"force_refresh"`
}

func ScanFolder(path string, force bool) ScanFolderRequest {
	return ScanFolderRequest{Type: TypeScanFolder, FolderPath: path, ForceRefresh: force}
}
