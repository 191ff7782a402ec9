// Package speech turns agent replies into audio files with ElevenLabs.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
)

// ErrUnavailable is returned when synthesis is not configured or the
// provider did not produce audio.
var ErrUnavailable = errors.New("speech synthesis unavailable")

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	modelID        = "eleven_monolingual_v1"
	// maxErrorBody caps how much of a failed response is logged.
	maxErrorBody = 512
)

// Config configures a Synthesizer.
type Config struct {
	APIKey   string
	VoiceID  string
	BaseURL  string
	AudioDir string
	Timeout  time.Duration
}

// Synthesizer calls the ElevenLabs text-to-speech endpoint and stores the
// returned MP3 under AudioDir.
type Synthesizer struct {
	cfg    Config
	client *http.Client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// NewSynthesizer creates a Synthesizer. It does not contact the provider.
func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Enabled reports whether an API key is configured.
func (s *Synthesizer) Enabled() bool {
	return s != nil && s.cfg.APIKey != ""
}

// FileName returns the audio file name used for text in sessionID.
func FileName(sessionID, text string) string {
	return fmt.Sprintf("tts_%s_%d.mp3", unsafeName.ReplaceAllString(sessionID, "_"), xxhash.Sum64String(text)%10000)
}

// Synthesize converts text to speech and returns the path of the saved MP3.
// Any provider failure is logged and reported as ErrUnavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, text, sessionID string) (string, error) {
	if !s.Enabled() {
		slog.Warn("Speech synthesis requested but no API key configured", "session_id", sessionID)
		return "", ErrUnavailable
	}

	body, err := sonic.Marshal(ttsRequest{
		Text:          text,
		ModelID:       modelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return "", fmt.Errorf("encode tts request: %w", err)
	}

	url := s.cfg.BaseURL + "/text-to-speech/" + s.cfg.VoiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("ElevenLabs request failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("ElevenLabs API error", "session_id", sessionID, "status", resp.StatusCode, "body", string(detail))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := os.MkdirAll(s.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(s.cfg.AudioDir, FileName(sessionID, text))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	slog.Info("TTS audio saved", "session_id", sessionID, "path", path)
	return path, nil
}
