package stt

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
)

// MaxAudioChunkSize caps outbound audio events at ~100ms of 16kHz mono PCM16.
// AWS recommends 50-200ms chunks; larger writes are split before queuing.
const MaxAudioChunkSize = 3200

var transcribeLanguageCodes = map[string]types.LanguageCode{
	"ko": types.LanguageCodeKoKr,
	"en": types.LanguageCodeEnUs,
	"ja": types.LanguageCodeJaJp,
	"zh": types.LanguageCodeZhCn,
	"es": types.LanguageCodeEsUs,
	"fr": types.LanguageCodeFrFr,
	"de": types.LanguageCodeDeDe,
}

// TranscribeRecognizer runs streaming recognition through Amazon Transcribe.
type TranscribeRecognizer struct {
	client     *transcribestreaming.Client
	sampleRate int32
}

// NewTranscribeRecognizer wraps an AWS config into a streaming recognizer.
func NewTranscribeRecognizer(cfg aws.Config, sampleRate int32) *TranscribeRecognizer {
	return &TranscribeRecognizer{
		client:     transcribestreaming.NewFromConfig(cfg),
		sampleRate: sampleRate,
	}
}

// Start opens a transcription stream for one capture session.
func (r *TranscribeRecognizer) Start(ctx context.Context, sourceLang string) (Stream, error) {
	langCode, ok := transcribeLanguageCodes[sourceLang]
	if !ok {
		langCode = types.LanguageCodeEnUs
		log.Printf("[Transcribe] Unknown language '%s', defaulting to en-US", sourceLang)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := r.client.StartStreamTranscription(streamCtx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         langCode,
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(r.sampleRate),
	})
	if err != nil {
		cancel()
		log.Printf("[Transcribe] StartStreamTranscription failed: %v", err)
		return nil, err
	}

	ts := &transcribeStream{
		eventStream: resp.GetStream(),
		ctx:         streamCtx,
		cancel:      cancel,
		events:      make(chan TranscriptEvent, 50),
		audioIn:     make(chan []byte, 100),
	}

	go ts.sendAudioLoop()
	go ts.receiveLoop()

	log.Printf("[Transcribe] Stream started (lang=%s, sessionId=%v)", sourceLang, resp.SessionId)
	return ts, nil
}

type transcribeStream struct {
	eventStream *transcribestreaming.StartStreamTranscriptionEventStream
	ctx         context.Context
	cancel      context.CancelFunc

	events  chan TranscriptEvent
	audioIn chan []byte

	mu       sync.Mutex
	isClosed bool
	err      error
}

// Send queues audio for the stream, splitting oversized writes. Audio is
// dropped when the outbound buffer is full; Transcribe tolerates small gaps.
func (ts *transcribeStream) Send(chunk []byte) error {
	ts.mu.Lock()
	if ts.isClosed {
		ts.mu.Unlock()
		return nil
	}
	ts.mu.Unlock()

	for offset := 0; offset < len(chunk); offset += MaxAudioChunkSize {
		end := offset + MaxAudioChunkSize
		if end > len(chunk) {
			end = len(chunk)
		}

		select {
		case ts.audioIn <- chunk[offset:end]:
		case <-ts.ctx.Done():
			return ts.ctx.Err()
		default:
			log.Printf("[Transcribe] Audio buffer full, dropping %d bytes", end-offset)
			return nil
		}
	}
	return nil
}

func (ts *transcribeStream) Events() <-chan TranscriptEvent {
	return ts.events
}

// Err reports the terminal stream error. Valid after Events closes.
func (ts *transcribeStream) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.err
}

// Close terminates the stream. Idempotent. audioIn is never closed; the
// cancelled context stops sendAudioLoop, and leaving the channel open keeps a
// racing Send from panicking.
func (ts *transcribeStream) Close() error {
	ts.mu.Lock()
	if ts.isClosed {
		ts.mu.Unlock()
		return nil
	}
	ts.isClosed = true
	ts.mu.Unlock()

	ts.cancel()
	return nil
}

func (ts *transcribeStream) sendAudioLoop() {
	defer func() {
		ts.mu.Lock()
		ts.isClosed = true
		ts.mu.Unlock()
		ts.eventStream.Close()
	}()

	for {
		select {
		case <-ts.ctx.Done():
			return
		case chunk := <-ts.audioIn:
			err := ts.eventStream.Send(ts.ctx, &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: chunk},
			})
			if err != nil {
				log.Printf("[Transcribe] Failed to send audio chunk: %v", err)
				return
			}
		}
	}
}

func (ts *transcribeStream) receiveLoop() {
	defer close(ts.events)

	for event := range ts.eventStream.Events() {
		select {
		case <-ts.ctx.Done():
			return
		default:
		}

		if e, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent); ok {
			ts.handleTranscriptEvent(e.Value)
		}
	}

	// Per the SDK pattern, the stream error is only valid after the event
	// channel closes.
	if err := ts.eventStream.Err(); err != nil {
		log.Printf("[Transcribe] Stream error: %v", err)
		ts.mu.Lock()
		ts.err = err
		ts.mu.Unlock()
	}
}

func (ts *transcribeStream) handleTranscriptEvent(event types.TranscriptEvent) {
	if event.Transcript == nil {
		return
	}

	for _, result := range event.Transcript.Results {
		if len(result.Alternatives) == 0 {
			continue
		}

		alt := result.Alternatives[0]
		text := aws.ToString(alt.Transcript)
		if text == "" {
			continue
		}

		var confidence float32 = 1.0
		if len(alt.Items) > 0 && alt.Items[0].Confidence != nil {
			confidence = float32(*alt.Items[0].Confidence)
		}

		select {
		case ts.events <- TranscriptEvent{
			Text:       text,
			IsFinal:    !result.IsPartial,
			Confidence: confidence,
		}:
		default:
			log.Printf("[Transcribe] Transcript channel full, dropping result")
		}
	}
}
