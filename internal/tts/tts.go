package tts

import "context"

// SampleRate is the fixed output rate for synthesized audio. Every
// implementation returns mono float32 samples at this rate; downstream
// playback relies on it.
const SampleRate = 24000

// Synthesizer renders text to speech. Implementations must be safe for
// concurrent use; one instance is shared by every listener pipeline.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]float32, error)
}
