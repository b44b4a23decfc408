package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"orderrec/internal/config"
)

// APIKey is a bearer key accepted by the order and admin endpoints. Only
// the bcrypt hash of the key is stored.
type APIKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Name is a human-friendly label (e.g. "warehouse-feed").
	Name string `gorm:"uniqueIndex;size:128;not null"`

	Hash string `gorm:"size:255;not null"`

	// Active indicates whether this key is currently enabled.
	Active bool `gorm:"default:true"`
}

// bootstrapKeyName labels the key taken from configuration.
const bootstrapKeyName = "bootstrap"

// EnsureBootstrapAPIKey stores the configured ingest key so that bearer
// auth accepts it. An existing bootstrap key is re-hashed when the
// configured value changed.
func (s *Store) EnsureBootstrapAPIKey(ctx context.Context, cfg *config.Config) error {
	if cfg.IngestAPIKey == "" {
		return nil
	}
	db := s.db.WithContext(ctx)

	var existing APIKey
	if err := db.Where("name = ?", bootstrapKeyName).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	if existing.ID != 0 && bcrypt.CompareHashAndPassword([]byte(existing.Hash), []byte(cfg.IngestAPIKey)) == nil {
		if !existing.Active {
			return db.Model(&existing).Update("active", true).Error
		}
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.IngestAPIKey), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if existing.ID != 0 {
		return db.Model(&existing).Updates(map[string]interface{}{"hash": string(hash), "active": true}).Error
	}
	return db.Create(&APIKey{Name: bootstrapKeyName, Hash: string(hash), Active: true}).Error
}

// CreateAPIKey stores a new named key.
func (s *Store) CreateAPIKey(ctx context.Context, name, key string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&APIKey{Name: name, Hash: string(hash), Active: true}).Error
}

// VerifyAPIKey returns the name of the active key matching token.
func (s *Store) VerifyAPIKey(ctx context.Context, token string) (string, bool, error) {
	var keys []APIKey
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&keys).Error; err != nil {
		return "", false, err
	}
	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			return k.Name, true, nil
		}
	}
	return "", false, nil
}

// HasAPIKeys reports whether any active key exists.
func (s *Store) HasAPIKeys(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&APIKey{}).Where("active = ?", true).Count(&count).Error
	return count > 0, err
}

// APIKeysVersion fingerprints the active key set. Any create, re-hash,
// activation or deactivation changes it.
func (s *Store) APIKeysVersion(ctx context.Context) (string, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).
		Select("id", "updated_at").
		Where("active = ?", true).
		Order("id").
		Find(&keys).Error
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.FormatUint(uint64(k.ID), 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(k.UpdatedAt.UnixNano(), 10))
		b.WriteByte(';')
	}
	return b.String(), nil
}
