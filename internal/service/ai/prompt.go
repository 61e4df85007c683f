package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
)

// DefaultSystemPrompt 未配置 AI_SYSTEM_PROMPT 时使用的系统提示词
const DefaultSystemPrompt = "You are a helpful assistant with expertise in analyzing files, code, and images. " +
	"When presented with files or images, carefully read through all content before responding."

// historyLimit 传给模型的最近消息条数
const historyLimit = 10

// PromptContext 构建系统提示词所需的上下文
type PromptContext struct {
	Base          string
	Files         []chat.FileInfo
	SearchResults []chat.SearchResult
	SearchSummary string
}

// BuildSystemPrompt 拼接基础提示词、附件内容和搜索结果。
func BuildSystemPrompt(pc PromptContext) string {
	base := strings.TrimSpace(pc.Base)
	if base == "" {
		base = DefaultSystemPrompt
	}

	var builder strings.Builder
	builder.WriteString(base)

	if len(pc.Files) > 0 {
		builder.WriteString("\n\n附件内容：\n")
		for _, f := range pc.Files {
			fmt.Fprintf(&builder, "\nFile: %s\n", f.Name)
			if f.IsImage {
				if f.Caption != "" {
					fmt.Fprintf(&builder, "Image description: %s\n", f.Caption)
				}
				continue
			}
			lang := LanguageOf(f.Name)
			fmt.Fprintf(&builder, "```%s\n%s\n```\n", lang, f.Content)
		}
	}

	if pc.SearchSummary != "" {
		fmt.Fprintf(&builder, "\nSearch Summary: %s\n", pc.SearchSummary)
	}
	if len(pc.SearchResults) > 0 {
		builder.WriteString("\n搜索结果：\n")
		for _, r := range pc.SearchResults {
			fmt.Fprintf(&builder, "Title: %s\nURL: %s\n%s\n", r.Title, r.Link, r.Snippet)
		}
	}
	return builder.String()
}

// HistoryMessages 将后端保存的对话转换为模型消息，只保留最近 historyLimit 条。
func HistoryMessages(messages []protocol.HistoryMessage) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "tsx",
	".json": "json",
	".md":   "markdown",
	".sh":   "bash",
	".sql":  "sql",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
}

// LanguageOf 按扩展名猜测代码语言
func LanguageOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return languages[strings.ToLower(name[idx:])]
}
