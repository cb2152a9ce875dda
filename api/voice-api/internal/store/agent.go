// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	internal_entity "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/entity"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// AgentRecord stores one agent configuration as JSON. Agents are managed
// out of band; the engine only reads them at call setup.
type AgentRecord struct {
	ID         string    `gorm:"column:id;type:varchar(64);primaryKey"`
	Name       string    `gorm:"column:name;type:varchar(200);not null;default:''"`
	ConfigJSON string    `gorm:"column:config;type:text;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (AgentRecord) TableName() string {
	return "agents"
}

// AgentStore loads and seeds agent configurations.
type AgentStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewAgentStore creates the gorm-backed agent store and migrates the schema.
func NewAgentStore(db *gorm.DB, logger commons.Logger) (*AgentStore, error) {
	if err := db.AutoMigrate(&AgentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate agents: %w", err)
	}
	return &AgentStore{db: db, logger: logger}, nil
}

// GetAgent decodes the stored configuration for id. The returned agent is a
// fresh value; callers may apply per-call defaults to it.
func (s *AgentStore) GetAgent(ctx context.Context, id string) (*internal_entity.Agent, error) {
	var rec AgentRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("agent not found: %s: %w", id, err)
	}

	var agent internal_entity.Agent
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &agent); err != nil {
		return nil, fmt.Errorf("agent %s has malformed configuration: %w", id, err)
	}
	agent.ID = rec.ID
	if agent.Name == "" {
		agent.Name = rec.Name
	}
	return &agent, nil
}

// Save upserts an agent configuration. Used by seed tooling and tests.
func (s *AgentStore) Save(ctx context.Context, agent *internal_entity.Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to encode agent %s: %w", agent.ID, err)
	}

	rec := AgentRecord{
		ID:         agent.ID,
		Name:       agent.Name,
		ConfigJSON: string(raw),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save agent %s: %w", agent.ID, err)
	}
	s.logger.Debugf("saved agent: id=%s, name=%s", agent.ID, agent.Name)
	return nil
}
