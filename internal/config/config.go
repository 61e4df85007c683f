package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

// Config 聚合客户端与开发后端的配置项。
type Config struct {
	Client ClientConfig `toml:"client"`
	Server ServerConfig `toml:"server"`
	AI     AIConfig     `toml:"ai"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:          "http://localhost:5000/api",
			WSURL:           "ws://localhost:8000/ws",
			TTSURL:          "http://localhost:8000/tts/play",
			ReconnectDelay:  3 * time.Second,
			PollInterval:    time.Second,
			PollMaxAttempts: 300,
			IndexPath:       ".hubchat/sessions.db",
			ExportDir:       ".",
			Search:          chat.DefaultSearchSettings(),
		},
		Server: ServerConfig{
			Addr:         ":8000",
			PendingPolls: 2,
			StreamDelay:  30 * time.Millisecond,
			Models:       []string{"llama3", "qwen2.5"},
		},
		AI: AIConfig{
			BaseURL:        "https://ark.cn-beijing.volces.com/api/v3",
			Region:         "cn-beijing",
			StreamResponse: true,
		},
	}
}

// Load 读取可选的 TOML 文件（HUBCHAT_CONFIG），再用环境变量覆盖。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("HUBCHAT_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := cfg.Client.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Server.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.AI.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值范围。
func (c *Config) Validate() error {
	if err := c.Client.Search.Validate(); err != nil {
		return fmt.Errorf("client search: %w", err)
	}
	if c.Client.ReconnectDelay <= 0 {
		return fmt.Errorf("client reconnect delay must be positive, got %s", c.Client.ReconnectDelay)
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client poll interval must be positive, got %s", c.Client.PollInterval)
	}
	if c.Client.PollMaxAttempts < 0 {
		return fmt.Errorf("client poll attempts must not be negative, got %d", c.Client.PollMaxAttempts)
	}
	if c.Server.PendingPolls < 0 {
		return fmt.Errorf("server pending polls must not be negative, got %d", c.Server.PendingPolls)
	}
	addr, err := normalizeAddr(c.Server.Addr)
	if err != nil {
		return err
	}
	c.Server.Addr = addr
	return nil
}

// ClientConfig 描述终端客户端配置。
type ClientConfig struct {
	APIURL          string              `toml:"api_url"`
	WSURL           string              `toml:"ws_url"`
	TTSURL          string              `toml:"tts_url"`
	ClientID        string              `toml:"client_id"`
	Model           string              `toml:"model"`
	ReconnectDelay  time.Duration       `toml:"reconnect_delay"`
	PollInterval    time.Duration       `toml:"poll_interval"`
	PollMaxAttempts int                 `toml:"poll_max_attempts"`
	IndexPath       string              `toml:"index_path"`
	ExportDir       string              `toml:"export_dir"`
	Search          chat.SearchSettings `toml:"search"`
}

func (c *ClientConfig) applyEnv() error {
	c.APIURL = getEnvOrDefault("HUBCHAT_API_URL", c.APIURL)
	c.WSURL = getEnvOrDefault("HUBCHAT_WS_URL", c.WSURL)
	c.TTSURL = getEnvOrDefault("HUBCHAT_TTS_URL", c.TTSURL)
	c.ClientID = getEnvOrDefault("HUBCHAT_CLIENT_ID", c.ClientID)
	c.Model = getEnvOrDefault("HUBCHAT_MODEL", c.Model)
	c.IndexPath = getEnvOrDefault("HUBCHAT_INDEX_PATH", c.IndexPath)
	c.ExportDir = getEnvOrDefault("HUBCHAT_EXPORT_DIR", c.ExportDir)

	var err error
	if c.ReconnectDelay, err = parseMillisEnv("HUBCHAT_RECONNECT_MS", c.ReconnectDelay); err != nil {
		return err
	}
	if c.PollInterval, err = parseMillisEnv("HUBCHAT_POLL_INTERVAL_MS", c.PollInterval); err != nil {
		return err
	}
	if attempts, err := parseOptionalIntEnv("HUBCHAT_POLL_MAX_ATTEMPTS"); err != nil {
		return err
	} else if attempts != nil {
		c.PollMaxAttempts = *attempts
	}

	if c.Search.WebSearchEnabled, err = parseBoolEnv("HUBCHAT_WEB_SEARCH", c.Search.WebSearchEnabled); err != nil {
		return err
	}
	if c.Search.ShowSummary, err = parseBoolEnv("HUBCHAT_SHOW_SUMMARY", c.Search.ShowSummary); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("HUBCHAT_SEARCH_TYPE")); raw != "" {
		searchType, err := chat.ParseSearchType(raw)
		if err != nil {
			return fmt.Errorf("invalid HUBCHAT_SEARCH_TYPE value %q: %w", raw, err)
		}
		c.Search.SearchType = searchType
	}
	if count, err := parseOptionalIntEnv("HUBCHAT_RESULTS_COUNT"); err != nil {
		return err
	} else if count != nil {
		c.Search.ResultsCount = *count
	}
	return nil
}

// ServerConfig 描述开发后端的 HTTP 服务配置。
type ServerConfig struct {
	Addr         string        `toml:"addr"`
	PendingPolls int           `toml:"pending_polls"`
	StreamDelay  time.Duration `toml:"stream_delay"`
	Models       []string      `toml:"models"`
}

func (c *ServerConfig) applyEnv() error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Addr = port
	}
	if polls, err := parseOptionalIntEnv("MOCK_PENDING_POLLS"); err != nil {
		return err
	} else if polls != nil {
		c.PendingPolls = *polls
	}

	var err error
	if c.StreamDelay, err = parseMillisEnv("MOCK_STREAM_DELAY_MS", c.StreamDelay); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("MOCK_MODELS")); raw != "" {
		c.Models = splitList(raw)
	}
	return nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string   `toml:"api_key"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	Model          string   `toml:"model"`
	BaseURL        string   `toml:"base_url"`
	Region         string   `toml:"region"`
	SystemPrompt   string   `toml:"system_prompt"`
	Temperature    *float64 `toml:"temperature"`
	TopP           *float64 `toml:"top_p"`
	MaxTokens      *int     `toml:"max_tokens"`
	StreamResponse bool     `toml:"stream"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func (c *AIConfig) applyEnv() error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		c.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		c.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		c.MaxTokens = maxTokens
	}

	if c.StreamResponse, err = parseBoolEnv("ARK_STREAM", c.StreamResponse); err != nil {
		return err
	}

	c.APIKey = getEnvOrDefault("ARK_API_KEY", c.APIKey)
	c.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", c.AccessKey)
	c.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", c.SecretKey)
	c.Model = getEnvOrDefault("Model", c.Model)
	c.BaseURL = getEnvOrDefault("ARK_BASE_URL", c.BaseURL)
	c.Region = getEnvOrDefault("ARK_REGION", c.Region)
	c.SystemPrompt = getEnvOrDefault("AI_SYSTEM_PROMPT", c.SystemPrompt)
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseMillisEnv 读取以毫秒为单位的时长。
func parseMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil {
		return defaultValue, nil
	}
	if *ms < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *ms)
	}
	return time.Duration(*ms) * time.Millisecond, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
