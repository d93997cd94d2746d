// Package media is the object-storage boundary for message attachments.
// Attachment bytes are opaque to the engine; the store returns a URL and the
// stored size.
package media

import (
	"context"

	"github.com/gebre-tech/backend/internal/domain"
)

type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (*domain.Attachment, error)
}
