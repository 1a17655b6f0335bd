package stt

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// WhisperProvider implements the STT Provider interface using OpenAI's
// transcription API. There is no live endpoint, so NewStream buffers audio
// client-side and transcribes the whole utterance on Finalize.
type WhisperProvider struct {
	client openai.Client
	model  openai.AudioModel
}

// NewWhisper creates a new OpenAI transcription provider.
func NewWhisper(apiKey string, opts ...option.RequestOption) *WhisperProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &WhisperProvider{
		client: openai.NewClient(opts...),
		model:  openai.AudioModelWhisper1,
	}
}

// Name returns the provider identifier.
func (p *WhisperProvider) Name() string {
	return "openai-whisper"
}

// Transcribe converts a complete raw PCM utterance to text.
func (p *WhisperProvider) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Transcript, error) {
	wav := encodeWAV(audio, opts.SampleRate, opts.Channels)

	params := openai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}
	return &Transcript{
		Text:     resp.Text,
		Language: opts.Language,
	}, nil
}

// NewStream returns a buffering pseudo-stream: SendAudio accumulates, and
// Finalize runs one Transcribe over everything received so far.
func (p *WhisperProvider) NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error) {
	s := NewStream()

	var mu sync.Mutex
	var buf []byte

	s.SendFunc = func(frame []byte) error {
		mu.Lock()
		buf = append(buf, frame...)
		mu.Unlock()
		return nil
	}
	s.FinalizeFunc = func(ctx context.Context) (*Transcript, error) {
		mu.Lock()
		audio := buf
		buf = nil
		mu.Unlock()

		t, err := p.Transcribe(ctx, audio, opts)
		if err != nil {
			return nil, err
		}
		s.PushDelta(Delta{Text: t.Text, IsFinal: true})
		return t, nil
	}
	s.CloseFunc = func() error {
		s.FinishDeltas()
		return nil
	}
	return s, nil
}
