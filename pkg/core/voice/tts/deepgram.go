package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramSpeakURL     = "https://api.deepgram.com/v1/speak"
	deepgramSpeakWSURL   = "wss://api.deepgram.com/v1/speak"
	defaultDeepgramVoice = "aura-2-thalia-en"
)

// deepgramVoiceAliases maps generic voice names onto Deepgram Aura models,
// so callers configured for other vendors keep working.
var deepgramVoiceAliases = map[string]string{
	"alloy":   "aura-2-thalia-en",
	"echo":    "aura-2-luna-en",
	"fable":   "aura-2-stella-en",
	"onyx":    "aura-2-arcas-en",
	"nova":    "aura-2-thalia-en",
	"shimmer": "aura-2-hera-en",
}

// DeepgramProvider implements the TTS Provider interface using Deepgram's
// Aura API: REST for one-shot synthesis, websocket for incremental text.
type DeepgramProvider struct {
	apiKey     string
	httpClient *http.Client
	wsBaseURL  string
}

// NewDeepgram creates a new Deepgram TTS provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		wsBaseURL:  deepgramSpeakWSURL,
	}
}

// NewDeepgramWithClient creates a provider with a custom HTTP client and an
// optional websocket base URL override (used by tests).
func NewDeepgramWithClient(apiKey string, client *http.Client, wsBaseURL string) *DeepgramProvider {
	if client == nil {
		client = &http.Client{}
	}
	if wsBaseURL == "" {
		wsBaseURL = deepgramSpeakWSURL
	}
	return &DeepgramProvider{apiKey: apiKey, httpClient: client, wsBaseURL: wsBaseURL}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

func deepgramVoice(voice string) string {
	if voice == "" {
		return defaultDeepgramVoice
	}
	if model, ok := deepgramVoiceAliases[voice]; ok {
		return model
	}
	return voice
}

func deepgramEncoding(format string) string {
	switch format {
	case "", "pcm":
		return "linear16"
	case "mp3":
		return "mp3"
	default:
		return format
	}
}

// Synthesize converts a complete text to audio in one request.
func (p *DeepgramProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	u, err := url.Parse(deepgramSpeakURL)
	if err != nil {
		return nil, fmt.Errorf("parse speak URL: %w", err)
	}
	q := u.Query()
	q.Set("model", deepgramVoice(opts.Voice))
	encoding := deepgramEncoding(opts.Format)
	q.Set("encoding", encoding)
	if encoding == "linear16" {
		rate := opts.SampleRate
		if rate <= 0 {
			rate = 16000
		}
		q.Set("sample_rate", fmt.Sprintf("%d", rate))
	}
	u.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, string(respBody))
	}

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

// NewStream opens an incremental synthesis session over websocket. Text
// fragments go out as Speak messages; the final fragment triggers a Flush
// and audio streams back until the server confirms the flush.
func (p *DeepgramProvider) NewStream(ctx context.Context, opts SynthesizeOptions) (*Stream, error) {
	u, err := url.Parse(p.wsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", deepgramVoice(opts.Voice))
	q.Set("encoding", "linear16")
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", rate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := NewStream()
	ls := &deepgramSpeakSession{conn: conn, stream: s}
	s.SendFunc = ls.sendText
	s.CloseFunc = ls.close

	go ls.readLoop()
	return s, nil
}

type deepgramSpeakSession struct {
	conn    *websocket.Conn
	stream  *Stream
	writeMu sync.Mutex
}

func (ls *deepgramSpeakSession) sendText(text string, isFinal bool) error {
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	if text != "" {
		msg, err := json.Marshal(map[string]string{"type": "Speak", "text": text})
		if err != nil {
			return fmt.Errorf("marshal speak: %w", err)
		}
		if err := ls.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("send speak: %w", err)
		}
	}
	if isFinal {
		if err := ls.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flush"}`)); err != nil {
			return fmt.Errorf("send flush: %w", err)
		}
	}
	return nil
}

func (ls *deepgramSpeakSession) close() error {
	ls.writeMu.Lock()
	_ = ls.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Close"}`))
	_ = ls.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ls.writeMu.Unlock()
	return ls.conn.Close()
}

func (ls *deepgramSpeakSession) readLoop() {
	defer ls.stream.FinishAudio()

	for {
		msgType, data, err := ls.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ls.stream.SetError(err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			if !ls.stream.PushAudio(data) {
				return
			}
		case websocket.TextMessage:
			var msg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "Flushed":
				// All buffered text has been synthesized and sent.
				return
			case "Error":
				ls.stream.SetError(fmt.Errorf("deepgram: %s", msg.Description))
				return
			}
		}
	}
}
