package generator

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"

	"github.com/elizastream/server/session"
)

// ChatClient is the subset of openai.Client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// PromptSource renders the system prompt for a participant.
type PromptSource interface {
	Prompt(username string) string
}

type OpenAIConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// HistoryLimit is how many of the most recent context entries are sent.
	HistoryLimit int
}

// OpenAI generates replies with the chat completions API in JSON mode.
type OpenAI struct {
	client  ChatClient
	prompts PromptSource
	cfg     OpenAIConfig
}

func NewOpenAI(client ChatClient, prompts PromptSource, cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	return &OpenAI{client: client, prompts: prompts, cfg: cfg}
}

// NewClient creates an OpenAI client. An empty baseURL keeps the default.
func NewClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Reply, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req))
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, ErrEmptyReply
	}
	return ParseReply(resp.Choices[0].Message.Content)
}

func (o *OpenAI) buildRequest(req Request) openai.ChatCompletionRequest {
	recent := req.Context
	if limit := o.cfg.HistoryLimit; limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(recent)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: o.prompts.Prompt(req.Username),
	})
	messages = append(messages, lo.Map(recent, func(e session.Entry, _ int) openai.ChatCompletionMessage {
		role := openai.ChatMessageRoleUser
		if e.Role == session.RoleResponder {
			role = openai.ChatMessageRoleAssistant
		}
		return openai.ChatCompletionMessage{Role: role, Content: e.Text}
	})...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Input,
	})

	return openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		User: req.Username,
	}
}
