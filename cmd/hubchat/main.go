package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"github.com/zhouzirui/hubchat/internal/config"
	"github.com/zhouzirui/hubchat/internal/service/api"
	"github.com/zhouzirui/hubchat/internal/service/chat"
	"github.com/zhouzirui/hubchat/internal/service/hub"
	"github.com/zhouzirui/hubchat/internal/service/transport"
	"github.com/zhouzirui/hubchat/internal/service/tts"
	"github.com/zhouzirui/hubchat/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "TOML 配置文件路径 (等同 HUBCHAT_CONFIG)")
	wsURL := flag.String("ws", "", "WebSocket 地址，例如 ws://localhost:8000/ws")
	apiURL := flag.String("api", "", "HTTP API 地址，例如 http://localhost:5000/api")
	ttsURL := flag.String("tts", "", "语音播放地址")
	clientID := flag.String("client", "", "客户端 ID，留空则沿用上次或自动生成")
	modelName := flag.String("model", "", "默认模型")
	indexPath := flag.String("index", "", "会话索引数据库路径")
	exportDir := flag.String("export", "", ".hub 导出目录")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	palette = termenv.EnvColorProfile()

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}
	if *configPath != "" {
		os.Setenv("HUBCHAT_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	client := cfg.Client
	override(&client.WSURL, *wsURL)
	override(&client.APIURL, *apiURL)
	override(&client.TTSURL, *ttsURL)
	override(&client.ClientID, *clientID)
	override(&client.Model, *modelName)
	override(&client.IndexPath, *indexPath)
	override(&client.ExportDir, *exportDir)

	index, err := storage.OpenSQLite(client.IndexPath)
	if err != nil {
		log.Fatalf("failed to open session index: %v", err)
	}
	defer index.Close()

	if client.ClientID == "" {
		if client.ClientID, err = index.LastClient(ctx); err != nil {
			log.Printf("warning: %v", err)
		}
		if client.ClientID == "" {
			client.ClientID = uuid.NewString()
		}
	}

	poolOpts := transport.DefaultOptions(client.WSURL)
	poolOpts.ReconnectDelay = client.ReconnectDelay
	pool := transport.NewPool(poolOpts)
	defer pool.Close()

	var apiClient *api.Client
	if client.APIURL != "" {
		apiClient = api.NewClient(client.APIURL, api.WithPollPolicy(api.PollPolicy{
			Interval:    client.PollInterval,
			Multiplier:  1,
			MaxInterval: client.PollInterval,
			MaxAttempts: client.PollMaxAttempts,
		}))
	}

	var speaker *tts.Client
	if client.TTSURL != "" {
		speaker = tts.NewClient(client.TTSURL, nil)
	}

	var p *printer
	store, err := chat.NewStore(chat.Options{
		ClientID:     client.ClientID,
		Pool:         pool,
		API:          apiClient,
		Index:        index,
		Sink:         hub.DirSink{Dir: client.ExportDir},
		Search:       client.Search,
		DefaultModel: client.Model,
		OnEvent:      func(ev chat.Event) { p.handle(ev) },
	})
	if err != nil {
		log.Fatalf("failed to create chat store: %v", err)
	}
	defer store.Close()

	p = newPrinter(os.Stdout, func() string {
		info, _ := store.Active()
		return info.ID
	})

	restored, err := store.Restore(ctx)
	if err != nil {
		log.Printf("warning: %v", err)
	}
	if len(restored) == 0 {
		if _, err := store.CreateSession(ctx, ""); err != nil {
			log.Fatalf("failed to open session: %v", err)
		}
	} else if err := store.SetActive(restored[len(restored)-1].ID); err != nil {
		log.Printf("warning: %v", err)
	}

	info, _ := store.Active()
	fmt.Printf("hubchat %s, client %s, session %q. /help for commands\n", client.WSURL, client.ClientID, info.Name)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := filepath.Join(filepath.Dir(client.IndexPath), "history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}()

	next := func() (string, error) {
		input, err := line.Prompt("> ")
		if err == nil && strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		return input, err
	}

	r := &repl{store: store, speaker: speaker, out: os.Stdout, exportDir: client.ExportDir}
	if err := r.run(ctx, next); err != nil {
		log.Printf("input error: %v", err)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
