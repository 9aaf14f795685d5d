package tts

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// pollySampleRate is the PCM rate requested from Polly. Polly caps raw PCM
// output at 16kHz; samples are resampled to SampleRate after decoding.
const pollySampleRate = 16000

var pollyVoices = map[string]types.VoiceId{
	"ko": types.VoiceIdSeoyeon,
	"en": types.VoiceIdJoanna,
	"ja": types.VoiceIdTakumi,
	"zh": types.VoiceIdZhiyu,
	"es": types.VoiceIdLupe,
	"fr": types.VoiceIdLea,
	"de": types.VoiceIdVicki,
}

// PollySynthesizer renders speech through Amazon Polly.
type PollySynthesizer struct {
	client *polly.Client
}

// NewPollySynthesizer wraps an AWS config into a synthesizer.
func NewPollySynthesizer(cfg aws.Config) *PollySynthesizer {
	return &PollySynthesizer{client: polly.NewFromConfig(cfg)}
}

// Synthesize renders text in the given language and returns mono float32
// samples at SampleRate.
func (s *PollySynthesizer) Synthesize(ctx context.Context, text, lang string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	voice, ok := pollyVoices[lang]
	if !ok {
		voice = types.VoiceIdJoanna
		log.Printf("[Polly] No voice for language '%s', defaulting to Joanna", lang)
	}

	output, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      voice,
		OutputFormat: types.OutputFormatPcm,
		SampleRate:   aws.String("16000"),
		Engine:       types.EngineNeural,
	})
	if err != nil {
		log.Printf("[Polly] Synthesis failed (lang=%s): %v", lang, err)
		return nil, err
	}
	defer output.AudioStream.Close()

	raw, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, err
	}

	return resampleLinear(decodePCM16(raw), pollySampleRate, SampleRate), nil
}

// decodePCM16 converts little-endian signed 16-bit PCM to float32 in [-1, 1].
func decodePCM16(raw []byte) []float32 {
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / float32(math.MaxInt16)
	}
	return samples
}

// resampleLinear converts between sample rates by linear interpolation. Good
// enough for speech; no anti-aliasing filter is needed when upsampling.
func resampleLinear(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}

	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float32, n)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
