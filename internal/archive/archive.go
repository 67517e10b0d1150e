// Package archive stores date-keyed JSON payloads of raw check batches and
// benchmark rollups for later inspection. Archiving is best-effort: jobs log
// and continue when a write fails, and the whole layer turns into a no-op
// when no storage account is configured.
package archive

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Archive is the blob-archive contract consumed by the jobs.
type Archive interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Disabled is the no-op archive used when no account is configured.
type Disabled struct{}

var _ Archive = Disabled{}

// Store drops the payload.
func (Disabled) Store(ctx context.Context, name string, data []byte) error {
	logrus.Debugf("Archive disabled, dropping %s (%d bytes)", name, len(data))
	return nil
}

// Retrieve always reports nothing archived.
func (Disabled) Retrieve(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}

// List always reports nothing archived.
func (Disabled) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}
