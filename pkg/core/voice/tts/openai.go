package tts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// streamChunkBytes is the chunk size used when replaying one-shot audio
// through a stream.
const streamChunkBytes = 4096

// OpenAIProvider implements the TTS Provider interface using OpenAI's
// speech API. The API has no incremental mode, so NewStream buffers text
// and synthesizes once on flush.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

func openaiSpeechModel(model string) openai.SpeechModel {
	if model == "" {
		return openai.SpeechModelTTS1
	}
	return openai.SpeechModel(model)
}

func openaiVoice(voice string) openai.AudioSpeechNewParamsVoice {
	if voice == "" {
		return openai.AudioSpeechNewParamsVoiceAlloy
	}
	return openai.AudioSpeechNewParamsVoice(voice)
}

func openaiFormat(format string) openai.AudioSpeechNewParamsResponseFormat {
	switch format {
	case "", "pcm":
		return openai.AudioSpeechNewParamsResponseFormatPCM
	case "wav":
		return openai.AudioSpeechNewParamsResponseFormatWAV
	case "mp3":
		return openai.AudioSpeechNewParamsResponseFormatMP3
	default:
		return openai.AudioSpeechNewParamsResponseFormat(format)
	}
}

// Synthesize converts a complete text to audio in one request.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	params := openai.AudioSpeechNewParams{
		Model:          openaiSpeechModel(opts.Model),
		Input:          text,
		Voice:          openaiVoice(opts.Voice),
		ResponseFormat: openaiFormat(opts.Format),
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	format := opts.Format
	if format == "" {
		format = "pcm"
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}

// NewStream returns a buffering pseudo-stream: text fragments accumulate
// until the final one arrives, then the whole text is synthesized in one
// call and the audio replayed in chunks.
func (p *OpenAIProvider) NewStream(ctx context.Context, opts SynthesizeOptions) (*Stream, error) {
	s := NewStream()
	bs := &bufferedSpeech{provider: p, ctx: ctx, opts: opts, stream: s}
	s.SendFunc = bs.sendText
	s.CloseFunc = bs.close
	return s, nil
}

type bufferedSpeech struct {
	provider *OpenAIProvider
	ctx      context.Context
	opts     SynthesizeOptions
	stream   *Stream

	mu         sync.Mutex
	buf        strings.Builder
	flushed    bool
	finishOnce sync.Once
}

func (bs *bufferedSpeech) sendText(text string, isFinal bool) error {
	bs.mu.Lock()
	if bs.flushed {
		bs.mu.Unlock()
		return ErrStreamClosed
	}
	bs.buf.WriteString(text)
	if !isFinal {
		bs.mu.Unlock()
		return nil
	}
	bs.flushed = true
	full := bs.buf.String()
	bs.mu.Unlock()

	go bs.synthesize(full)
	return nil
}

func (bs *bufferedSpeech) synthesize(text string) {
	defer bs.finishOnce.Do(bs.stream.FinishAudio)

	if strings.TrimSpace(text) == "" {
		return
	}
	result, err := bs.provider.Synthesize(bs.ctx, text, bs.opts)
	if err != nil {
		bs.stream.SetError(err)
		return
	}
	for off := 0; off < len(result.Audio); off += streamChunkBytes {
		end := off + streamChunkBytes
		if end > len(result.Audio) {
			end = len(result.Audio)
		}
		if !bs.stream.PushAudio(result.Audio[off:end]) {
			return
		}
	}
}

func (bs *bufferedSpeech) close() error {
	bs.mu.Lock()
	flushed := bs.flushed
	bs.flushed = true
	bs.mu.Unlock()
	if !flushed {
		// Never flushed, nothing in flight to close the channel.
		bs.finishOnce.Do(bs.stream.FinishAudio)
	}
	return nil
}
