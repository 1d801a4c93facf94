package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
	"lanfiasave/pkg/pgtx"
)

// PostgresRegistry persists beneficiaries in PostgreSQL. Balance increments
// are single UPDATE statements so concurrent distributions to the same
// beneficiary never lose writes. All queries join an enclosing transaction
// when one is carried in context.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRegistry) q(ctx context.Context) querier {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return r.pool
}

const beneficiaryColumns = `id, category, vulnerable, validated, amount_received, COALESCE(account_id, '')`

func (r *PostgresRegistry) Get(ctx context.Context, beneficiaryID string) (*Beneficiary, error) {
	row := r.q(ctx).QueryRow(ctx,
		`SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, beneficiaryID)
	return scanBeneficiary(row, beneficiaryID)
}

func (r *PostgresRegistry) ResolveCategory(ctx context.Context, category string) ([]*Beneficiary, error) {
	rows, err := r.q(ctx).Query(ctx,
		`SELECT `+beneficiaryColumns+`
		   FROM beneficiaries
		  WHERE category = $1 AND vulnerable AND validated
		  ORDER BY id`, category)
	if err != nil {
		return nil, fmt.Errorf("resolve category %s: %w", category, err)
	}
	defer rows.Close()

	var members []*Beneficiary
	for rows.Next() {
		var b Beneficiary
		if err := rows.Scan(&b.ID, &b.Category, &b.Vulnerable, &b.Validated, &b.AmountReceived, &b.AccountID); err != nil {
			return nil, fmt.Errorf("scan beneficiary: %w", err)
		}
		members = append(members, &b)
	}
	return members, rows.Err()
}

func (r *PostgresRegistry) GetBalance(ctx context.Context, beneficiaryID string) (money.Amount, error) {
	var balance money.Amount
	err := r.q(ctx).QueryRow(ctx,
		`SELECT amount_received FROM beneficiaries WHERE id = $1`, beneficiaryID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresRegistry) IncrementBalance(ctx context.Context, beneficiaryID string, delta money.Amount) (money.Amount, error) {
	var balance money.Amount
	err := r.q(ctx).QueryRow(ctx,
		`UPDATE beneficiaries SET amount_received = amount_received + $2
		  WHERE id = $1 RETURNING amount_received`, beneficiaryID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	if err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresRegistry) SetEligible(ctx context.Context, beneficiaryID string, eligible bool) error {
	tag, err := r.q(ctx).Exec(ctx,
		`UPDATE beneficiaries SET vulnerable = $2 WHERE id = $1`, beneficiaryID, eligible)
	if err != nil {
		return fmt.Errorf("set eligible: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	return nil
}

// Put inserts or replaces a beneficiary record. Seeding helper used by
// integration tests and the embedding platform's intake flow.
func (r *PostgresRegistry) Put(ctx context.Context, b *Beneficiary) error {
	_, err := r.q(ctx).Exec(ctx,
		`INSERT INTO beneficiaries (id, category, vulnerable, validated, amount_received, account_id)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 ON CONFLICT (id) DO UPDATE SET
		   category = EXCLUDED.category,
		   vulnerable = EXCLUDED.vulnerable,
		   validated = EXCLUDED.validated,
		   amount_received = EXCLUDED.amount_received,
		   account_id = EXCLUDED.account_id`,
		b.ID, b.Category, b.Vulnerable, b.Validated, b.AmountReceived, b.AccountID)
	if err != nil {
		return fmt.Errorf("put beneficiary: %w", err)
	}
	return nil
}

func scanBeneficiary(row pgx.Row, beneficiaryID string) (*Beneficiary, error) {
	var b Beneficiary
	err := row.Scan(&b.ID, &b.Category, &b.Vulnerable, &b.Validated, &b.AmountReceived, &b.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan beneficiary: %w", err)
	}
	return &b, nil
}
