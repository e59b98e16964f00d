package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
)

type MailboxSyncRepository struct {
	db *gorm.DB
}

func NewMailboxSyncRepository(db *gorm.DB) *MailboxSyncRepository {
	return &MailboxSyncRepository{db: db}
}

// GetSyncState retrieves the sync state of a mailbox
func (r *MailboxSyncRepository) GetSyncState(ctx context.Context, mailboxName string) (*models.MailboxSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxSyncRepository.GetSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagMailbox(span, mailboxName)

	if mailboxName == "" {
		return nil, ErrInvalidInput
	}

	var state models.MailboxSyncState
	result := r.db.WithContext(ctx).
		Where("mailbox_name = ?", mailboxName).
		First(&state)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// SaveSyncState stores the watermark of a mailbox, creating the row on
// first use
func (r *MailboxSyncRepository) SaveSyncState(ctx context.Context, mailboxName string, watermark models.Watermark) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxSyncRepository.SaveSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagMailbox(span, mailboxName)
	span.SetTag("watermark", watermark.String())

	if mailboxName == "" {
		return ErrInvalidInput
	}

	now := time.Now().UTC()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.MailboxSyncState{}).
		Where("mailbox_name = ?", mailboxName).
		Updates(map[string]interface{}{
			"next_uid":     watermark.NextUID,
			"uid_validity": watermark.UIDValidity,
			"last_sync":    now,
			"updated_at":   now,
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(&models.MailboxSyncState{
			MailboxName: mailboxName,
			NextUID:     watermark.NextUID,
			UIDValidity: watermark.UIDValidity,
			LastSync:    now,
		})
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// DeleteSyncState deletes the sync state of a mailbox
func (r *MailboxSyncRepository) DeleteSyncState(ctx context.Context, mailboxName string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxSyncRepository.DeleteSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagMailbox(span, mailboxName)

	result := r.db.WithContext(ctx).
		Where("mailbox_name = ?", mailboxName).
		Delete(&models.MailboxSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}

	return nil
}

// GetAllSyncStates gets the sync states of every watched mailbox
func (r *MailboxSyncRepository) GetAllSyncStates(ctx context.Context) ([]models.MailboxSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxSyncRepository.GetAllSyncStates")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var states []models.MailboxSyncState
	if err := r.db.WithContext(ctx).Order("mailbox_name").Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get all sync states: %w", err)
	}

	return states, nil
}

// ForMailbox binds the repository to one mailbox as a WatermarkStore.
func (r *MailboxSyncRepository) ForMailbox(mailboxName string) interfaces.WatermarkStore {
	return &mailboxWatermarkStore{repo: r, mailbox: mailboxName}
}

type mailboxWatermarkStore struct {
	repo    *MailboxSyncRepository
	mailbox string
}

func (s *mailboxWatermarkStore) Load(ctx context.Context) (*models.Watermark, error) {
	state, err := s.repo.GetSyncState(ctx, s.mailbox)
	if err != nil || state == nil {
		return nil, err
	}
	w := state.Watermark()
	return &w, nil
}

func (s *mailboxWatermarkStore) Save(ctx context.Context, watermark models.Watermark) error {
	return s.repo.SaveSyncState(ctx, s.mailbox, watermark)
}

func (s *mailboxWatermarkStore) Delete(ctx context.Context) error {
	return s.repo.DeleteSyncState(ctx, s.mailbox)
}
