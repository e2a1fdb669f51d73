package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded, in the requested output format
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wsURL builds the stream-input endpoint for voiceID from the REST base URL.
func (p *Provider) wsURL(voiceID string) string {
	base := p.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", base, url.PathEscape(voiceID), q.Encode())
}

// synthesizeWebSocket sends the whole text over a stream-input session and
// returns a stream of the decoded audio chunks. The session is closed once
// ElevenLabs marks the final chunk or the reader is closed.
func (p *Provider) synthesizeWebSocket(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	conn, _, err := websocket.Dial(ctx, p.wsURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	settings := p.settings
	msgs := []any{
		// ElevenLabs requires a non-empty first text value.
		boiMessage{Text: " ", VoiceSettings: &settings, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		// An empty text flushes the buffer and ends the input.
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		pw.CloseWithError(readAudio(ctx, conn, pw))
	}()
	return pr, nil
}

// readAudio copies decoded audio frames from conn to w until the final frame.
// It returns nil on a clean end of stream.
func readAudio(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("elevenlabs: decode message: %w", err)
		}
		if resp.Error != "" {
			return errors.New("elevenlabs: " + resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			if _, err := w.Write(chunk); err != nil {
				// Reader side closed.
				return err
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}
