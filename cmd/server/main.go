package main

import (
	"context"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"orbit-backend/internal/bus"
	"orbit-backend/internal/cache"
	"orbit-backend/internal/config"
	"orbit-backend/internal/coordinator"
	"orbit-backend/internal/database"
	"orbit-backend/internal/handler"
	"orbit-backend/internal/presence"
	"orbit-backend/internal/roomstore"
	"orbit-backend/internal/server"
	"orbit-backend/internal/stt"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer database.Close(db)

	if err := database.Ping(db); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}
	log.Printf("Database connected")

	store, err := roomstore.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Room state store connection failed: %v", err)
	}
	defer store.Close()

	transcripts, err := cache.NewTranscriptCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Transcript cache connection failed: %v", err)
	}
	defer transcripts.Close()

	roster := presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer roster.Close()

	coord := coordinator.New(store, cfg.Room)
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go coord.Run(reaperCtx)

	b := bus.New(db, transcripts)

	recognizer, translator, synth := buildProviders(cfg)

	srv := server.New(cfg, server.Dependencies{
		DB:          db,
		Coordinator: coord,
		Bus:         b,
		Transcripts: transcripts,
		Roster:      roster,
		Recognizer:  recognizer,
		Translator:  translator,
		Synthesizer: synth,
		HealthChecks: map[string]handler.HealthChecker{
			"room_store":  store,
			"transcripts": transcripts,
			"roster":      roster,
		},
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// buildProviders wires the speech providers. AI_PROVIDER=mock swaps all
// three for in-process fakes so the service runs without AWS access.
func buildProviders(cfg *config.Config) (stt.Recognizer, translate.Translator, tts.Synthesizer) {
	if cfg.AWS.Provider == "mock" {
		log.Printf("Using mock speech providers")
		return stt.NewMockRecognizer(), translate.NewMockTranslator(), tts.NewMockSynthesizer()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		log.Fatalf("AWS config load failed: %v", err)
	}

	log.Printf("Using AWS speech providers (region=%s)", cfg.AWS.Region)
	return stt.NewTranscribeRecognizer(awsCfg, cfg.Audio.SampleRate),
		translate.NewAWSTranslator(awsCfg),
		tts.NewPollySynthesizer(awsCfg)
}
