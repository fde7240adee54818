package repository

import (
	"context"
	"time"

	"delegated-billing/internal/domain/model"
)

// SubscriptionRepository is the port for the capability store.
//
// ListDue is a point-in-time snapshot, not a live cursor: time passes between
// listing and charging, so the executor re-checks Chargeable on the loaded
// record before acting.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindByIDForUpdate locks the row for the duration of the surrounding
	// transaction. Only valid with a non-nil tx.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Subscription, error)

	// CountByStatus is a read-only statistics method for the operator panel.
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}
