package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/hubchat/internal/config"
)

// Request is one turn handed to a generator.
type Request struct {
	Model   string
	System  string
	History []*schema.Message
	Query   string
}

// Generator produces a streamed assistant reply.
type Generator interface {
	Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error)
}

// EchoGenerator answers deterministically without a model. Replies open with a
// thinking block whose tags are split across chunks.
type EchoGenerator struct{}

// Stream implements Generator.
func (EchoGenerator) Stream(_ context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "(empty message)"
	}

	chunks := []string{
		"<thi",
		"nk>Considering: " + query + "</th",
		"ink>",
		"Echo",
		" from " + modelName(req.Model) + ": ",
		query,
	}
	messages := make([]*schema.Message, 0, len(chunks))
	for _, c := range chunks {
		messages = append(messages, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(messages), nil
}

func modelName(name string) string {
	if name == "" {
		return "echo"
	}
	return name
}

// ChainGenerator streams replies from an Ark chat model through an eino chain.
type ChainGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	model string
}

// NewChainGenerator compiles the prompt and model chain.
func NewChainGenerator(ctx context.Context, cfg config.AIConfig) (*ChainGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainGenerator{chain: runnable, model: cfg.Model}, nil
}

// Stream implements Generator. The requested model name is advisory; the chain
// always runs the configured Ark endpoint.
func (g *ChainGenerator) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if req.Model != "" && req.Model != g.model {
		log.Printf("[ai] model %s requested, serving with %s", req.Model, g.model)
	}

	input := map[string]any{
		"system":  req.System,
		"history": req.History,
		"query":   req.Query,
	}
	stream, err := g.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}
