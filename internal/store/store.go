// Package store keeps recent predictions so a caller can fetch them again
// by request ID.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

// DefaultTTL matches how long a stored result stays useful to a client
// polling for it.
const DefaultTTL = time.Hour

var ErrNotFound = errors.New("prediction not found")

type Store interface {
	Save(ctx context.Context, id string, p model.Prediction) error
	Get(ctx context.Context, id string) (model.Prediction, error)
	Close() error
}

func key(prefix, id string) string {
	return prefix + id
}
