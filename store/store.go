// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store keeps a history of the generated captions in a SQLite
// database.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// CaptionRecord is a generated caption.
type CaptionRecord struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"not null"`

	RequestID string `gorm:"not null;index"`
	SampleIdx int    `gorm:"not null"`
	Variant   string `gorm:"not null"`
	// Tokens holds the space-separated token ids.
	Tokens string `gorm:"not null"`
	Text   string `gorm:"not null"`
	Score  float64
}

// Models lists the tables of the store.
var Models = []any{
	&CaptionRecord{},
}

// Store is a caption history.
type Store struct {
	db *gorm.DB
}

// Open opens, or creates, the SQLite database and migrates its tables.
func Open(filename string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: newStatementLogger(log.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open caption store: %w", err)
	}
	if err = db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate caption store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save records the captions of a request.
func (s *Store) Save(ctx context.Context, records []CaptionRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to save captions: %w", err)
	}
	return nil
}

// ByRequest returns the captions of a request ordered by sample.
func (s *Store) ByRequest(ctx context.Context, requestID string) ([]CaptionRecord, error) {
	var records []CaptionRecord
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("sample_idx").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read captions: %w", err)
	}
	return records, nil
}

// Count returns the number of stored captions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&CaptionRecord{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// JoinTokens formats token ids for CaptionRecord.Tokens.
func JoinTokens(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

// SplitTokens parses CaptionRecord.Tokens.
func SplitTokens(s string) ([]int, error) {
	fields := strings.Fields(s)
	ids := make([]int, len(fields))
	for i, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q: %w", f, err)
		}
		ids[i] = id
	}
	return ids, nil
}
