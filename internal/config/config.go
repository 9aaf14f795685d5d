package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application settings.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Audio     AudioConfig
	CORS      CORSConfig
	Auth      AuthConfig
	AWS       AWSConfig
	Redis     RedisConfig
	Room      RoomConfig
	Pipeline  PipelineConfig
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig websocket transport settings.
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// AudioConfig capture-side audio settings. ChunkInterval is a performance
// knob, not a correctness constraint.
type AudioConfig struct {
	SampleRate    int32
	ChunkInterval time.Duration
	BufferSize    int
}

// CORSConfig CORS settings.
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig websocket identity token settings.
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// AWSConfig credentials for the Transcribe/Translate/Polly providers.
// Provider "mock" swaps all three for in-process fakes.
type AWSConfig struct {
	Provider        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// RedisConfig realtime state store settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RoomConfig speaker-lock and raise-hand settings.
type RoomConfig struct {
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
	MaxQueueSize      int
}

// PipelineConfig per-listener translation pipeline settings.
type PipelineConfig struct {
	PendingQueueSize int
	CallTimeout      time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		Audio: AudioConfig{
			SampleRate:    int32(getInt("AUDIO_SAMPLE_RATE", 16000)),
			ChunkInterval: getDuration("AUDIO_CHUNK_INTERVAL", 250*time.Millisecond),
			BufferSize:    getInt("AUDIO_CHANNEL_BUFFER_SIZE", 100),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept"),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: getDuration("TOKEN_EXPIRY", 12*time.Hour),
		},
		AWS: AWSConfig{
			Provider:        getEnv("AI_PROVIDER", "aws"),
			Region:          getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Room: RoomConfig{
			LeaseTTL:          getDuration("ROOM_LEASE_TTL", 15*time.Second),
			HeartbeatInterval: getDuration("ROOM_HEARTBEAT_INTERVAL", 5*time.Second),
			ReapInterval:      getDuration("ROOM_REAP_INTERVAL", 5*time.Second),
			MaxQueueSize:      getInt("ROOM_MAX_QUEUE_SIZE", 50),
		},
		Pipeline: PipelineConfig{
			PendingQueueSize: getInt("PIPELINE_PENDING_QUEUE_SIZE", 3),
			CallTimeout:      getDuration("PIPELINE_CALL_TIMEOUT", 15*time.Second),
		},
	}
}

// getRequiredEnv fetches a required variable or exits.
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv fetches a variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt fetches an integer variable.
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDuration fetches a duration variable. Bare numbers are seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
