// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package internal_store persists one record per call. Rows transition
// initiated → ringing → in-progress → completed/failed and are never
// deleted during the call lifecycle: status callbacks and recording
// uploads can arrive after the media path has already closed.
package internal_store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// Call status constants.
const (
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TranscriptEntry is one conversation turn.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CallRecord is the externally visible state the engine produces per call.
type CallRecord struct {
	ID              string     `json:"id" gorm:"column:id;type:varchar(64);primaryKey"`
	Status          string     `json:"status" gorm:"column:status;type:varchar(20);not null;default:initiated"`
	AgentID         string     `json:"agentId" gorm:"column:agent_id;type:varchar(64);not null;default:''"`
	CustomerNumber  string     `json:"customerNumber" gorm:"column:customer_number;type:varchar(50);not null;default:''"`
	StartedAt       time.Time  `json:"startedAt" gorm:"column:started_at;not null"`
	EndedAt         *time.Time `json:"endedAt" gorm:"column:ended_at"`
	EndedReason     string     `json:"endedReason" gorm:"column:ended_reason;type:varchar(40);not null;default:''"`
	TranscriptJSON  string     `json:"-" gorm:"column:transcript;type:text;not null;default:''"`
	RecordingURL    string     `json:"recordingUrl" gorm:"column:recording_url;type:text;not null;default:''"`
	DurationSeconds float64    `json:"durationSeconds" gorm:"column:duration_seconds;not null;default:0"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// Transcript decodes the stored conversation log.
func (c *CallRecord) Transcript() []TranscriptEntry {
	if c.TranscriptJSON == "" {
		return nil
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal([]byte(c.TranscriptJSON), &entries); err != nil {
		return nil
	}
	return entries
}

// CallStore is the persistence seam consumed by the media bridge.
type CallStore interface {
	// Create inserts a new record with status "initiated".
	Create(ctx context.Context, rec *CallRecord) error

	// UpdateStatus moves a call to ringing or in-progress.
	UpdateStatus(ctx context.Context, callID, status string) error

	// Get fetches a record by ID regardless of status.
	Get(ctx context.Context, callID string) (*CallRecord, error)

	// Complete finalizes a call: status, reason, transcript, recording URL
	// and duration in one atomic update.
	Complete(ctx context.Context, callID, status, reason string, transcript []TranscriptEntry, recordingURL string, duration time.Duration) error
}

type gormStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewCallStore creates the gorm-backed store and migrates the schema.
func NewCallStore(db *gorm.DB, logger commons.Logger) (CallStore, error) {
	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate call_records: %w", err)
	}
	return &gormStore{db: db, logger: logger}, nil
}

func (s *gormStore) Create(ctx context.Context, rec *CallRecord) error {
	if rec.Status == "" {
		rec.Status = StatusInitiated
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create call record %s: %w", rec.ID, err)
	}
	s.logger.Debugf("created call record: id=%s, agent=%s, customer=%s", rec.ID, rec.AgentID, rec.CustomerNumber)
	return nil
}

func (s *gormStore) UpdateStatus(ctx context.Context, callID, status string) error {
	result := s.db.WithContext(ctx).Model(&CallRecord{}).
		Where("id = ?", callID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update call %s status: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call record %s not found", callID)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, callID string) (*CallRecord, error) {
	var rec CallRecord
	if err := s.db.WithContext(ctx).Where("id = ?", callID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("call record not found: %s: %w", callID, err)
	}
	return &rec, nil
}

func (s *gormStore) Complete(ctx context.Context, callID, status, reason string, transcript []TranscriptEntry, recordingURL string, duration time.Duration) error {
	transcriptJSON := ""
	if len(transcript) > 0 {
		raw, err := json.Marshal(transcript)
		if err != nil {
			return fmt.Errorf("failed to encode transcript for call %s: %w", callID, err)
		}
		transcriptJSON = string(raw)
	}

	result := s.db.WithContext(ctx).Model(&CallRecord{}).
		Where("id = ?", callID).
		Updates(map[string]interface{}{
			"status":           status,
			"ended_reason":     reason,
			"ended_at":         time.Now(),
			"transcript":       transcriptJSON,
			"recording_url":    recordingURL,
			"duration_seconds": duration.Seconds(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete call record %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call record %s not found", callID)
	}

	s.logger.Infof("completed call record: id=%s, status=%s, reason=%s, duration=%.1fs",
		callID, status, reason, duration.Seconds())
	return nil
}
