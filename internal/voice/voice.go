package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/into-the-night/fin-breaker/config"
	openai "github.com/sashabaranov/go-openai"
)

const maxSpeechBytes = 16 << 20

// Service transcribes spoken questions and reads answers aloud through the
// OpenAI audio endpoints.
type Service struct {
	client *openai.Client
	cfg    config.VoiceConfig
	logger *log.Logger
}

func NewService(client *openai.Client, cfg config.VoiceConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[VOICE] ", log.LstdFlags)
	}
	return &Service{client: client, cfg: cfg.Normalize(), logger: logger}
}

// Transcribe returns the text spoken in audio. filename only hints the
// container format to the API.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	if filename == "" {
		filename = "question.wav"
	}
	s.logger.Printf("Received %d bytes of audio for transcription", len(audio))
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	transcript := strings.TrimSpace(resp.Text)
	s.logger.Printf("Transcription complete: %q", transcript)
	return transcript, nil
}

// Speak renders text as mp3 audio.
func (s *Service) Speak(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is empty")
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(io.LimitReader(resp, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	s.logger.Printf("TTS audio generated (%d bytes)", len(audio))
	return audio, nil
}
