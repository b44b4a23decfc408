package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"orderrec/internal/recommend"
)

// SaveGeneration stores gen and makes it the only active generation, in one
// transaction. Incomplete generations are refused.
func (s *Store) SaveGeneration(ctx context.Context, gen *recommend.Generation) error {
	if !gen.Complete() {
		return fmt.Errorf("generation %s is incomplete", gen.ID)
	}
	bundle, err := gen.MarshalBundle()
	if err != nil {
		return fmt.Errorf("encode generation: %w", err)
	}
	sizes := datatypes.JSONMap{}
	for c, n := range gen.ClusterSizes() {
		sizes[strconv.Itoa(c)] = n
	}

	row := ModelGeneration{
		ID:           gen.ID.String(),
		CreatedAt:    gen.CreatedAt,
		Seed:         gen.Seed,
		ClusterCount: gen.ClusterCount,
		Active:       true,
		ClusterSizes: sizes,
		Bundle:       datatypes.JSON(bundle),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ModelGeneration{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
}

// ActiveGeneration loads the active generation. It returns nil and no error
// when none has been activated yet.
func (s *Store) ActiveGeneration(ctx context.Context) (*recommend.Generation, error) {
	var row ModelGeneration
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("created_at DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recommend.UnmarshalBundle(row.Bundle)
}

// ActiveGenerationID returns the id of the active generation, or "".
func (s *Store) ActiveGenerationID(ctx context.Context) (string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ModelGeneration{}).
		Where("active = ?", true).
		Order("created_at DESC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// PruneGenerations deletes inactive generations beyond the newest keep.
func (s *Store) PruneGenerations(ctx context.Context, keep int) (int64, error) {
	var inactive []string
	err := s.db.WithContext(ctx).Model(&ModelGeneration{}).
		Where("active = ?", false).
		Order("created_at DESC").
		Pluck("id", &inactive).Error
	if err != nil || len(inactive) <= keep {
		return 0, err
	}
	stale := inactive[keep:]
	res := s.db.WithContext(ctx).Where("id IN ?", stale).Delete(&ModelGeneration{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.logger.Info().Int64("deleted", res.RowsAffected).Int("kept", keep).Msg("pruned model generations")
	return res.RowsAffected, nil
}
