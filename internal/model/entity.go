package model

import (
	"time"
)

// Utterance is one finalized unit of recognized speech from the active speaker.
// Rows are append-only; an utterance is never mutated after creation.
type Utterance struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RoomID        string    `gorm:"type:varchar(100);index;not null" json:"room_id"`
	SpeakerUserID string    `gorm:"type:varchar(100);not null" json:"speaker_user_id"`
	SpeakerName   string    `gorm:"type:varchar(100)" json:"speaker_name"`
	SourceLang    string    `gorm:"type:varchar(20);not null" json:"source_lang"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	IsFinal       bool      `gorm:"not null" json:"is_final"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Utterance) TableName() string {
	return "utterances"
}

// Translation is the rendered text of one utterance for one listener.
// Append-only, at most one row per (utterance, listener).
type Translation struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UtteranceID    string    `gorm:"type:varchar(36);uniqueIndex:idx_utterance_listener;not null" json:"utterance_id"`
	ListenerUserID string    `gorm:"type:varchar(100);uniqueIndex:idx_utterance_listener;not null" json:"listener_user_id"`
	TargetLang     string    `gorm:"type:varchar(20);not null" json:"target_lang"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	AudioRef       *string   `gorm:"type:text" json:"audio_ref,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Translation) TableName() string {
	return "translations"
}
