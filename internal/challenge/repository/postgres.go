package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
)

// openOwnerIndex is the partial unique index that enforces one open
// challenge per owner.
const openOwnerIndex = "challenges_one_open_per_owner"

const challengeColumns = `
	id, kind, owner, original_message_id, relay_origin, original_text,
	exercise_description, exercise_type, exercise_count, frequency, full_description,
	duration_days, end_date,
	penalty_amount, penalty_recipient, penalty_recipient_key,
	bounty_amount, status,
	payment_request, payment_hash, confirmation_id, paid, payout_hash, payout_pending,
	created_at, started_at, completed_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists challenges across the challenges, challenge_progress
// and bounty_pledges tables.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts c and its child rows in one transaction.
func (r *PostgresStore) Create(ctx context.Context, c *model.Challenge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stamp(c, time.Now().UTC())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	penaltyAmount, recipient, recipientKey := penaltyColumns(c)
	_, err = tx.Exec(ctx, `
		INSERT INTO challenges (`+challengeColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, $16,
			$17, $18,
			$19, $20, $21, $22, $23, $24,
			$25, $26, $27, $28
		)`,
		c.ID, c.Kind, c.Owner, c.OriginalMessageID, c.RelayOrigin, c.OriginalText,
		c.Exercise.Description, c.Exercise.Type, c.Exercise.Count, c.Exercise.Frequency, c.Exercise.FullDescription,
		c.Duration.Days, c.Duration.EndDate,
		penaltyAmount, recipient, recipientKey,
		bountyColumn(c), c.Status,
		c.Escrow.PaymentRequest, c.Escrow.PaymentHash, c.Escrow.ConfirmationID, c.Escrow.Paid, c.Escrow.PayoutHash, c.Escrow.PayoutPending,
		c.CreatedAt, c.StartedAt, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openOwnerIndex {
			return ErrOwnerHasOpenChallenge
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	if err := writeChildren(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit challenge: %w", err)
	}
	return nil
}

// Get retrieves a challenge by id.
func (r *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	return r.one(ctx, r.db, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
}

// Update locks the challenge row, applies fn and writes the result back.
func (r *PostgresStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Challenge, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	c, err := r.one(ctx, tx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()

	penaltyAmount, recipient, recipientKey := penaltyColumns(c)
	_, err = tx.Exec(ctx, `
		UPDATE challenges SET
			status          = $2,
			end_date        = $3,
			penalty_amount  = $4,
			penalty_recipient = $5,
			penalty_recipient_key = $6,
			bounty_amount   = $7,
			payment_request = $8,
			payment_hash    = $9,
			confirmation_id = $10,
			paid            = $11,
			payout_hash     = $12,
			payout_pending  = $13,
			started_at      = $14,
			completed_at    = $15,
			updated_at      = $16
		WHERE id = $1`,
		c.ID, c.Status, c.Duration.EndDate,
		penaltyAmount, recipient, recipientKey, bountyColumn(c),
		c.Escrow.PaymentRequest, c.Escrow.PaymentHash, c.Escrow.ConfirmationID, c.Escrow.Paid, c.Escrow.PayoutHash, c.Escrow.PayoutPending,
		c.StartedAt, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update challenge: %w", err)
	}
	if err := writeChildren(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit challenge: %w", err)
	}
	return c, nil
}

// OpenByOwner returns the owner's pending or active challenge.
func (r *PostgresStore) OpenByOwner(ctx context.Context, owner string) (*model.Challenge, error) {
	return r.one(ctx, r.db, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE owner = $1 AND status IN ('pending_payment', 'active')`, owner)
}

// LatestByOwner returns the owner's open challenge, or else their newest.
func (r *PostgresStore) LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error) {
	return r.one(ctx, r.db, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE owner = $1
		ORDER BY (status IN ('pending_payment', 'active')) DESC, created_at DESC
		LIMIT 1`, owner)
}

// ByOriginalMessage returns the challenge created from messageID.
func (r *PostgresStore) ByOriginalMessage(ctx context.Context, messageID string) (*model.Challenge, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}
	return r.one(ctx, r.db, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE original_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, messageID)
}

// List returns challenges matching f, newest first.
func (r *PostgresStore) List(ctx context.Context, f ListFilter) ([]*model.Challenge, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.many(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR owner = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		string(f.Status), string(f.Kind), f.Owner, limit, f.Offset)
}

// All returns every challenge.
func (r *PostgresStore) All(ctx context.Context) ([]*model.Challenge, error) {
	return r.many(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY created_at`)
}

// NeedingCheck returns active challenges whose end date is before now.
func (r *PostgresStore) NeedingCheck(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	return r.many(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date`, now)
}

// Delete permanently removes a challenge; child rows cascade.
func (r *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) one(ctx context.Context, q querier, query string, args ...any) (*model.Challenge, error) {
	c, err := scanChallenge(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if err := loadChildren(ctx, q, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresStore) many(ctx context.Context, query string, args ...any) ([]*model.Challenge, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	var out []*model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Children are loaded after the cursor is closed; a pooled connection
	// cannot run a second query while rows are still streaming.
	for _, c := range out {
		if err := loadChildren(ctx, r.db, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanChallenge(row pgx.Row) (*model.Challenge, error) {
	var (
		c             model.Challenge
		penaltyAmount *int64
		recipient     string
		recipientKey  string
		bountyAmount  *int64
	)
	err := row.Scan(
		&c.ID, &c.Kind, &c.Owner, &c.OriginalMessageID, &c.RelayOrigin, &c.OriginalText,
		&c.Exercise.Description, &c.Exercise.Type, &c.Exercise.Count, &c.Exercise.Frequency, &c.Exercise.FullDescription,
		&c.Duration.Days, &c.Duration.EndDate,
		&penaltyAmount, &recipient, &recipientKey,
		&bountyAmount, &c.Status,
		&c.Escrow.PaymentRequest, &c.Escrow.PaymentHash, &c.Escrow.ConfirmationID, &c.Escrow.Paid, &c.Escrow.PayoutHash, &c.Escrow.PayoutPending,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if penaltyAmount != nil {
		c.Penalty = &model.Penalty{AmountSats: *penaltyAmount, Recipient: recipient, RecipientKey: recipientKey}
	}
	if bountyAmount != nil {
		c.Bounty = &model.Bounty{AmountSats: *bountyAmount}
	}
	c.Progress = make(map[int]model.DayProgress)
	return &c, nil
}

func loadChildren(ctx context.Context, q querier, c *model.Challenge) error {
	rows, err := q.Query(ctx, `
		SELECT day, completed, proof_ref, recorded_at
		FROM challenge_progress WHERE challenge_id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("query progress: %w", err)
	}
	for rows.Next() {
		var day int
		var p model.DayProgress
		if err := rows.Scan(&day, &p.Completed, &p.ProofRef, &p.RecordedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan progress: %w", err)
		}
		c.Progress[day] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if c.Bounty == nil {
		return nil
	}
	rows, err = q.Query(ctx, `
		SELECT contributor, amount_sats, payment_request, payment_hash, paid, created_at, paid_at
		FROM bounty_pledges WHERE challenge_id = $1 ORDER BY created_at`, c.ID)
	if err != nil {
		return fmt.Errorf("query pledges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Pledge
		if err := rows.Scan(&p.Contributor, &p.AmountSats, &p.PaymentRequest, &p.PaymentHash, &p.Paid, &p.CreatedAt, &p.PaidAt); err != nil {
			return fmt.Errorf("scan pledge: %w", err)
		}
		c.Bounty.Pledges = append(c.Bounty.Pledges, p)
	}
	return rows.Err()
}

func writeChildren(ctx context.Context, q querier, c *model.Challenge) error {
	for day, p := range c.Progress {
		if _, err := q.Exec(ctx, `
			INSERT INTO challenge_progress (challenge_id, day, completed, proof_ref, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (challenge_id, day) DO UPDATE SET
				completed = EXCLUDED.completed,
				proof_ref = EXCLUDED.proof_ref,
				recorded_at = EXCLUDED.recorded_at`,
			c.ID, day, p.Completed, p.ProofRef, p.RecordedAt,
		); err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}
	}

	if c.Bounty == nil {
		return nil
	}
	hashes := make([]string, 0, len(c.Bounty.Pledges))
	for _, p := range c.Bounty.Pledges {
		hashes = append(hashes, p.PaymentHash)
		if _, err := q.Exec(ctx, `
			INSERT INTO bounty_pledges (payment_hash, challenge_id, contributor, amount_sats, payment_request, paid, created_at, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (payment_hash) DO UPDATE SET
				paid = EXCLUDED.paid,
				paid_at = EXCLUDED.paid_at`,
			p.PaymentHash, c.ID, p.Contributor, p.AmountSats, p.PaymentRequest, p.Paid, p.CreatedAt, p.PaidAt,
		); err != nil {
			return fmt.Errorf("upsert pledge: %w", err)
		}
	}
	// Pledges dropped from the record (expired invoices) are removed.
	if _, err := q.Exec(ctx,
		`DELETE FROM bounty_pledges WHERE challenge_id = $1 AND NOT (payment_hash = ANY($2))`,
		c.ID, hashes,
	); err != nil {
		return fmt.Errorf("prune pledges: %w", err)
	}
	return nil
}

func penaltyColumns(c *model.Challenge) (*int64, string, string) {
	if c.Penalty == nil {
		return nil, "", ""
	}
	amount := c.Penalty.AmountSats
	return &amount, c.Penalty.Recipient, c.Penalty.RecipientKey
}

func bountyColumn(c *model.Challenge) *int64 {
	if c.Bounty == nil {
		return nil
	}
	amount := c.Bounty.AmountSats
	return &amount
}
