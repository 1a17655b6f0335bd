// Package protocol defines the websocket frame schema for /v1/live.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the negotiated live audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// HelloGrounding names the store (and optionally the product in front of
// the customer) at session start.
type HelloGrounding struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id,omitempty"`
}

type HelloFeatures struct {
	WantPartialTranscripts bool `json:"want_partial_transcripts,omitempty"`
	WantAgentText          bool `json:"want_agent_text,omitempty"`
}

type ClientHello struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	AudioIn         AudioFormat    `json:"audio_in"`
	Grounding       HelloGrounding `json:"grounding"`
	Features        HelloFeatures  `json:"features,omitempty"`
	Voice           string         `json:"voice,omitempty"`
	Language        string         `json:"language,omitempty"`
}

type ClientAudioFrame struct {
	Type           string `json:"type"`
	Seq            int64  `json:"seq"`
	DataB64        string `json:"data_b64"`
	EndOfUtterance bool   `json:"end_of_utterance,omitempty"`
}

// ClientSetProduct switches the grounded product mid-session. The change
// applies from the next turn onward.
type ClientSetProduct struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
}

type ClientEndSession struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if msg.Seq < 0 {
			return nil, badRequest("audio_frame.seq must be >= 0", "seq")
		}
		if strings.TrimSpace(msg.DataB64) == "" && !msg.EndOfUtterance {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "set_product":
		var msg ClientSetProduct
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_product", "")
		}
		if strings.TrimSpace(msg.ProductID) == "" {
			return nil, badRequest("set_product.product_id is required", "product_id")
		}
		return msg, nil
	case "end_session":
		var msg ClientEndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_session", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.Grounding.StoreID) == "" {
		return badRequest("hello.grounding.store_id is required", "grounding.store_id")
	}
	if strings.TrimSpace(msg.AudioIn.Encoding) == "" {
		return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
	}
	if msg.AudioIn.Encoding != "pcm_s16le" {
		return unsupported("audio_in.encoding must be pcm_s16le", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
	}
	return nil
}

// Server frames.

type ServerSessionReady struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
	StoreName       string      `json:"store_name,omitempty"`
}

type ServerTranscript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type ServerAgentText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerAudioChunk struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	AudioB64 string `json:"audio_b64"`
}

// ServerTurnStatus closes out one interaction cycle. Status is "completed",
// "partial", or "failed:<stage>".
type ServerTurnStatus struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	UserText    string `json:"user_text,omitempty"`
	AgentText   string `json:"agent_text,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

type ServerStateChanged struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}
