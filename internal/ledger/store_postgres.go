package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
	"lanfiasave/pkg/pgtx"
)

// PostgresStore persists donations and allocations in PostgreSQL. It joins
// the transaction carried in context; GetDonationForUpdate takes a row lock
// on the donation, which is what serializes concurrent distributions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return s.pool
}

const donationColumns = `id, donor_id, category, amount, provenance, description, state, created_at, distributed_at`

func (s *PostgresStore) CreateDonation(ctx context.Context, d *Donation) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO donations (id, donor_id, category, amount, provenance, description, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.DonorID, d.Category, d.Amount, d.Provenance, d.Description, d.State, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDonation(ctx context.Context, donationID string) (*Donation, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1`, donationID)
	return scanDonation(row, donationID)
}

func (s *PostgresStore) GetDonationForUpdate(ctx context.Context, donationID string) (*Donation, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1 FOR UPDATE`, donationID)
	return scanDonation(row, donationID)
}

func (s *PostgresStore) SetDonationState(ctx context.Context, donationID string, state DonationState, distributedAt *time.Time) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE donations SET state = $2, distributed_at = $3 WHERE id = $1`,
		donationID, state, distributedAt)
	if err != nil {
		return fmt.Errorf("set donation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "donation %s not found", donationID)
	}
	return nil
}

func (s *PostgresStore) ListByDonor(ctx context.Context, donorID string) ([]*Donation, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE donor_id = $1 ORDER BY created_at DESC`, donorID)
	if err != nil {
		return nil, fmt.Errorf("list donations by donor: %w", err)
	}
	defer rows.Close()

	var out []*Donation
	for rows.Next() {
		var d Donation
		if err := rows.Scan(&d.ID, &d.DonorID, &d.Category, &d.Amount, &d.Provenance,
			&d.Description, &d.State, &d.CreatedAt, &d.DistributedAt); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachBeneficiaries(ctx context.Context, donationID string, beneficiaryIDs []string) error {
	for _, beneficiaryID := range beneficiaryIDs {
		_, err := s.q(ctx).Exec(ctx,
			`INSERT INTO donation_beneficiaries (donation_id, beneficiary_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, donationID, beneficiaryID)
		if err != nil {
			return fmt.Errorf("attach beneficiary %s: %w", beneficiaryID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListAttached(ctx context.Context, donationID string) ([]string, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT beneficiary_id FROM donation_beneficiaries
		  WHERE donation_id = $1 ORDER BY beneficiary_id`, donationID)
	if err != nil {
		return nil, fmt.Errorf("list attached: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan attached: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) InsertAllocations(ctx context.Context, allocations []*Allocation) error {
	for _, a := range allocations {
		_, err := s.q(ctx).Exec(ctx,
			`INSERT INTO allocations (id, donation_id, beneficiary_id, share_amount, withdrawn, computed_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5)`,
			a.ID, a.DonationID, a.BeneficiaryID, a.Share, a.ComputedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return pkgerrors.Wrap(err, pkgerrors.CodeConflict,
					"allocation already exists for donation "+a.DonationID)
			}
			return fmt.Errorf("insert allocation: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteAllocations(ctx context.Context, donationID string) error {
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM allocations WHERE donation_id = $1`, donationID); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	return nil
}

const allocationColumns = `id, donation_id, beneficiary_id, share_amount, withdrawn, withdrawn_at, computed_at`

func (s *PostgresStore) GetAllocation(ctx context.Context, allocationID string) (*Allocation, error) {
	var a Allocation
	err := s.q(ctx).QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE id = $1`, allocationID).
		Scan(&a.ID, &a.DonationID, &a.BeneficiaryID, &a.Share, &a.Withdrawn, &a.WithdrawnAt, &a.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "allocation %s not found", allocationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAllocationsByDonation(ctx context.Context, donationID string) ([]*Allocation, error) {
	return s.listAllocations(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE donation_id = $1 ORDER BY beneficiary_id`, donationID)
}

func (s *PostgresStore) ListAllocationsByBeneficiary(ctx context.Context, beneficiaryID string, withdrawn bool) ([]*Allocation, error) {
	return s.listAllocations(ctx,
		`SELECT `+allocationColumns+` FROM allocations
		  WHERE beneficiary_id = $1 AND withdrawn = $2 ORDER BY computed_at`, beneficiaryID, withdrawn)
}

func (s *PostgresStore) listAllocations(ctx context.Context, query string, args ...any) ([]*Allocation, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []*Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.DonationID, &a.BeneficiaryID, &a.Share,
			&a.Withdrawn, &a.WithdrawnAt, &a.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkWithdrawn(ctx context.Context, allocationID string, at time.Time) (money.Amount, bool, error) {
	// Single statement keeps the flip atomic; withdrawn = FALSE in the WHERE
	// clause makes re-withdrawal a no-op rather than a second update.
	var share money.Amount
	err := s.q(ctx).QueryRow(ctx,
		`UPDATE allocations SET withdrawn = TRUE, withdrawn_at = $2
		  WHERE id = $1 AND NOT withdrawn
		  RETURNING share_amount`, allocationID, at).Scan(&share)
	if errors.Is(err, pgx.ErrNoRows) {
		a, getErr := s.GetAllocation(ctx, allocationID)
		if getErr != nil {
			return 0, false, getErr
		}
		return a.Share, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark withdrawn: %w", err)
	}
	return share, true, nil
}

func (s *PostgresStore) MarkAllWithdrawn(ctx context.Context, beneficiaryID string, at time.Time) (money.Amount, []*Allocation, error) {
	rows, err := s.q(ctx).Query(ctx,
		`UPDATE allocations SET withdrawn = TRUE, withdrawn_at = $2
		  WHERE beneficiary_id = $1 AND NOT withdrawn
		  RETURNING `+allocationColumns, beneficiaryID, at)
	if err != nil {
		return 0, nil, fmt.Errorf("mark all withdrawn: %w", err)
	}
	defer rows.Close()

	var total money.Amount
	var flipped []*Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.DonationID, &a.BeneficiaryID, &a.Share,
			&a.Withdrawn, &a.WithdrawnAt, &a.ComputedAt); err != nil {
			return 0, nil, fmt.Errorf("scan withdrawn allocation: %w", err)
		}
		total += a.Share
		flipped = append(flipped, &a)
	}
	return total, flipped, rows.Err()
}

func scanDonation(row pgx.Row, donationID string) (*Donation, error) {
	var d Donation
	err := row.Scan(&d.ID, &d.DonorID, &d.Category, &d.Amount, &d.Provenance,
		&d.Description, &d.State, &d.CreatedAt, &d.DistributedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "donation %s not found", donationID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan donation: %w", err)
	}
	return &d, nil
}
