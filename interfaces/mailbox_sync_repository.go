package interfaces

import (
	"context"

	"github.com/customeros/mailobserver/internal/models"
)

// WatermarkStore persists the watermark of one mailbox across restarts.
// Load returns nil, nil when nothing has been stored yet.
type WatermarkStore interface {
	Load(ctx context.Context) (*models.Watermark, error)
	Save(ctx context.Context, watermark models.Watermark) error
	Delete(ctx context.Context) error
}
