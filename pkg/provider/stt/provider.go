// Package stt defines the Provider interface for batch speech-to-text
// backends.
//
// The streaming pipeline accumulates audio between flush ticks and submits
// each batch as one transcription request, so the provider surface is a
// single blocking call rather than a streaming session. Implementations wrap
// a remote API (OpenAI Whisper) or a local inference server (whisper.cpp's
// whisper-server) and must be safe for concurrent use — one provider
// instance is shared by every connection session.
package stt

import "context"

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe converts one batch of encoded audio into text. The audio
	// bytes are opaque to the pipeline; their container format is a contract
	// between the capturing client and the configured provider.
	//
	// An empty string with a nil error means the audio contained no
	// recognisable speech. A non-nil error indicates a backend failure
	// (network, auth, quota, malformed audio).
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
