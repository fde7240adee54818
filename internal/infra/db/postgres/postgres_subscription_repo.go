package postgres

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"delegated-billing/internal/domain"
	"delegated-billing/internal/domain/model"
	"delegated-billing/internal/domain/ports/repository"
	"delegated-billing/internal/infra/security"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

// subscriptionRepo is the Postgres capability store.
//
// Expected schema:
//
//	CREATE TABLE subscriptions (
//	  id                   UUID PRIMARY KEY,
//	  owner_account        TEXT        NOT NULL,
//	  owner_source_account TEXT        NOT NULL,
//	  delegate_secret_enc  TEXT        NOT NULL,   -- AES-GCM, base64
//	  delegate_public      TEXT        NOT NULL,
//	  periods_remaining    INT         NOT NULL,
//	  period_amount        BIGINT      NOT NULL,
//	  approved_ceiling     BIGINT      NOT NULL,
//	  created_at           TIMESTAMPTZ NOT NULL,
//	  next_charge_at       TIMESTAMPTZ,
//	  status               TEXT        NOT NULL,
//	  charge_history       JSONB       NOT NULL DEFAULT '[]'
//	);
//	CREATE INDEX subscriptions_due_idx ON subscriptions (next_charge_at)
//	  WHERE status = 'active';
//
// The delegate secret is encrypted before it touches the wire and is the only
// column the AES-GCM service sees.
type subscriptionRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewSubscriptionRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *subscriptionRepo {
	return &subscriptionRepo{pool: pool, enc: enc}
}

const subCols = `id, owner_account, owner_source_account, delegate_secret_enc, delegate_public,
periods_remaining, period_amount, approved_ceiling, created_at, next_charge_at, status, charge_history`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	secretEnc, err := r.enc.Encrypt(base64.StdEncoding.EncodeToString(s.DelegateSecret))
	if err != nil {
		return domain.ErrOperationFailed
	}
	history, err := json.Marshal(s.ChargeHistory)
	if err != nil {
		return domain.ErrOperationFailed
	}

	var nextCharge *time.Time
	if !s.NextChargeAt.IsZero() {
		nextCharge = &s.NextChargeAt
	}

	const q = `
INSERT INTO subscriptions (
  id, owner_account, owner_source_account, delegate_secret_enc, delegate_public,
  periods_remaining, period_amount, approved_ceiling, created_at, next_charge_at, status, charge_history
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  periods_remaining=$6, next_charge_at=$10, status=$11, charge_history=$12;`

	_, err = execSQL(ctx, r.pool, tx, q,
		s.ID, s.OwnerAccount, s.OwnerSourceAccount, secretEnc, s.DelegatePublic,
		s.PeriodsRemaining, s.PeriodAmount, s.ApprovedCeiling, s.CreatedAt, nextCharge, s.Status, history)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				return domain.ErrOperationFailed
			}
			return domain.ErrStoreUnavailable
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subCols + ` FROM subscriptions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
// Callers must pass the pgx.Tx they got from TxManager.WithTx.
func (r *subscriptionRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	const q = `SELECT ` + subCols + ` FROM subscriptions WHERE id=$1 FOR UPDATE;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subCols + `
  FROM subscriptions
 WHERE status='active' AND periods_remaining > 0 AND next_charge_at <= $1
 ORDER BY next_charge_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subCols + `
  FROM subscriptions
 WHERE status='pending' AND created_at <= $1
 ORDER BY created_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, cutoff, limit)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q)
	if err != nil {
		return nil, domain.ErrStoreUnavailable
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := r.scanSub(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrStoreUnavailable
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := r.scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) scanSub(row pgx.Row) (*model.Subscription, error) {
	var (
		s          model.Subscription
		secretEnc  string
		nextCharge *time.Time
		history    []byte
	)
	if err := row.Scan(
		&s.ID, &s.OwnerAccount, &s.OwnerSourceAccount, &secretEnc, &s.DelegatePublic,
		&s.PeriodsRemaining, &s.PeriodAmount, &s.ApprovedCeiling, &s.CreatedAt, &nextCharge, &s.Status, &history,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, domain.ErrReadDatabaseRow
	}

	secretB64, err := r.enc.Decrypt(secretEnc)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	raw, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, domain.ErrReadDatabaseRow
	}
	s.DelegateSecret = ed25519.PrivateKey(raw)

	if nextCharge != nil {
		s.NextChargeAt = *nextCharge
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.ChargeHistory); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &s, nil
}
