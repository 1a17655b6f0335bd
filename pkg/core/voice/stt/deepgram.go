package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramBaseURL      = "https://api.deepgram.com"
	deepgramListenWSURL  = "wss://api.deepgram.com/v1/listen"
	defaultDeepgramModel = "nova-2"
)

// DeepgramProvider implements the STT Provider interface using Deepgram's
// API: REST for one-shot utterances, websocket for live streams.
type DeepgramProvider struct {
	apiKey     string
	httpClient *http.Client
	wsBaseURL  string
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		wsBaseURL:  deepgramListenWSURL,
	}
}

// NewDeepgramWithClient creates a provider with a custom HTTP client and an
// optional websocket base URL override (used by tests).
func NewDeepgramWithClient(apiKey string, client *http.Client, wsBaseURL string) *DeepgramProvider {
	if client == nil {
		client = &http.Client{}
	}
	if wsBaseURL == "" {
		wsBaseURL = deepgramListenWSURL
	}
	return &DeepgramProvider{apiKey: apiKey, httpClient: client, wsBaseURL: wsBaseURL}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Transcribe converts a complete raw PCM utterance to text via the
// prerecorded endpoint.
func (p *DeepgramProvider) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Transcript, error) {
	u, err := url.Parse(deepgramBaseURL + "/v1/listen")
	if err != nil {
		return nil, fmt.Errorf("parse listen URL: %w", err)
	}
	q := u.Query()
	q.Set("model", modelOrDefault(opts.Model))
	q.Set("language", languageOrDefault(opts.Language))
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRateOrDefault(opts.SampleRate)))
	q.Set("channels", fmt.Sprintf("%d", channelsOrDefault(opts.Channels)))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, string(body))
	}

	var dgResp deepgramListenResponse
	if err := json.NewDecoder(resp.Body).Decode(&dgResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return dgResp.transcript(opts.Language), nil
}

type deepgramListenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r deepgramListenResponse) transcript(language string) *Transcript {
	t := &Transcript{
		Language: languageOrDefault(language),
		Duration: r.Metadata.Duration,
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		alt := r.Results.Channels[0].Alternatives[0]
		t.Text = strings.TrimSpace(alt.Transcript)
		t.Confidence = alt.Confidence
	}
	return t
}

// NewStream opens a live transcription session over websocket. Interim
// results arrive on Deltas; Finalize flushes the session and returns the
// accumulated final transcript.
func (p *DeepgramProvider) NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error) {
	u, err := url.Parse(p.wsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", modelOrDefault(opts.Model))
	q.Set("language", languageOrDefault(opts.Language))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRateOrDefault(opts.SampleRate)))
	q.Set("channels", fmt.Sprintf("%d", channelsOrDefault(opts.Channels)))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
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
	ls := &deepgramLiveSession{
		conn:     conn,
		stream:   s,
		language: languageOrDefault(opts.Language),
		finalCh:  make(chan *Transcript, 1),
	}
	s.SendFunc = ls.sendAudio
	s.FinalizeFunc = ls.finalize
	s.CloseFunc = ls.close

	go ls.readLoop()
	return s, nil
}

type deepgramLiveSession struct {
	conn     *websocket.Conn
	stream   *Stream
	language string

	writeMu sync.Mutex

	mu         sync.Mutex
	finals     []string
	confidence float64
	segments   int
	duration   float64

	finalCh chan *Transcript
}

func (ls *deepgramLiveSession) sendAudio(frame []byte) error {
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	return ls.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (ls *deepgramLiveSession) finalize(ctx context.Context) (*Transcript, error) {
	ls.writeMu.Lock()
	err := ls.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
	ls.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send finalize: %w", err)
	}

	select {
	case t := <-ls.finalCh:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ls.stream.Done():
		return nil, ErrStreamClosed
	}
}

func (ls *deepgramLiveSession) close() error {
	ls.writeMu.Lock()
	_ = ls.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = ls.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ls.writeMu.Unlock()
	return ls.conn.Close()
}

type deepgramLiveResponse struct {
	Type         string  `json:"type"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize"`
	Duration     float64 `json:"duration"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (ls *deepgramLiveSession) readLoop() {
	defer ls.stream.FinishDeltas()

	for {
		_, data, err := ls.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ls.stream.SetError(err)
			}
			return
		}

		var msg deepgramLiveResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			text := strings.TrimSpace(alt.Transcript)
			if text != "" {
				ls.stream.PushDelta(Delta{Text: text, IsFinal: msg.IsFinal})
			}
			if msg.IsFinal && text != "" {
				ls.mu.Lock()
				ls.finals = append(ls.finals, text)
				ls.confidence += alt.Confidence
				ls.segments++
				ls.duration += msg.Duration
				ls.mu.Unlock()
			}
			if msg.FromFinalize {
				ls.deliverFinal()
			}
		case "Metadata", "SpeechStarted", "UtteranceEnd":
			continue
		case "Error":
			ls.stream.SetError(fmt.Errorf("deepgram: %s", string(data)))
			return
		}
	}
}

// deliverFinal hands the accumulated utterance to the Finalize waiter and
// resets the accumulator for the next utterance on the same stream.
func (ls *deepgramLiveSession) deliverFinal() {
	ls.mu.Lock()
	t := &Transcript{
		Text:     strings.Join(ls.finals, " "),
		Language: ls.language,
		Duration: ls.duration,
	}
	if ls.segments > 0 {
		t.Confidence = ls.confidence / float64(ls.segments)
	}
	ls.finals = nil
	ls.confidence = 0
	ls.segments = 0
	ls.duration = 0
	ls.mu.Unlock()

	select {
	case ls.finalCh <- t:
	default:
	}
}

func modelOrDefault(model string) string {
	if model == "" {
		return defaultDeepgramModel
	}
	return model
}

func languageOrDefault(language string) string {
	if language == "" {
		return "en-US"
	}
	return language
}

func sampleRateOrDefault(rate int) int {
	if rate <= 0 {
		return 16000
	}
	return rate
}

func channelsOrDefault(channels int) int {
	if channels <= 0 {
		return 1
	}
	return channels
}
