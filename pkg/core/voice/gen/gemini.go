package gen

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements the Provider interface using Google's Gemini
// API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a new Gemini generation provider. An empty model
// selects gemini-2.0-flash.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Generate streams a grounded reply for the request.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Stream, error) {
	var contents []*genai.Content
	for _, pair := range HistoryPairs(req.Context.Turns) {
		contents = append(contents,
			&genai.Content{Role: "user", Parts: []*genai.Part{{Text: pair[0]}}},
			&genai.Content{Role: "model", Parts: []*genai.Part{{Text: pair[1]}}})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: UserMessage(req.Utterance, req.Context.Grounding)}},
	})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt}},
		},
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	it := p.client.Models.GenerateContentStream(ctx, p.model, contents, config)

	s := NewStream()
	go func() {
		defer s.Finish()

		for resp, err := range it {
			if err != nil {
				s.SetError(fmt.Errorf("gemini generate: %w", err))
				return
			}
			for _, cand := range resp.Candidates {
				switch cand.FinishReason {
				case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
					s.SetError(ErrRefused)
					return
				}
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Thought || part.Text == "" {
						continue
					}
					if !s.Push(part.Text) {
						return
					}
				}
			}
		}
	}()
	return s, nil
}
