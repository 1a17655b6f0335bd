package gen

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements the Provider interface using OpenAI's chat
// completions API.
type OpenAIProvider struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI creates a new OpenAI generation provider. An empty model
// selects gpt-4o.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate streams a grounded reply for the request.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Stream, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt),
	}
	for _, pair := range HistoryPairs(req.Context.Turns) {
		messages = append(messages,
			openai.UserMessage(pair[0]),
			openai.AssistantMessage(pair[1]))
	}
	messages = append(messages, openai.UserMessage(UserMessage(req.Utterance, req.Context.Grounding)))

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	s := NewStream()
	go func() {
		defer s.Finish()
		defer stream.Close()

		refused := false
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason == "content_filter" {
				refused = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			if !s.Push(choice.Delta.Content) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			s.SetError(fmt.Errorf("openai chat: %w", err))
			return
		}
		if refused {
			s.SetError(ErrRefused)
		}
	}()
	return s, nil
}
