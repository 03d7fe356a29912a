package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/telcoguard/fraud-decision/internal/policy"
)

// PolicyRepository persists immutable policy versions.
type PolicyRepository struct {
	db *Database
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *Database) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `
	id, version, content, hash, change_type, change_summary,
	changed_by, created_at, is_active, previous_version
`

// GetActive returns the single active version, or nil before first boot.
func (r *PolicyRepository) GetActive(ctx context.Context) (*policy.Version, error) {
	query := `SELECT ` + policyColumns + ` FROM policy_versions WHERE is_active = true`

	v, err := scanPolicyVersion(r.db.Pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// GetByVersion returns one version by its semantic version string.
func (r *PolicyRepository) GetByVersion(ctx context.Context, version string) (*policy.Version, error) {
	query := `SELECT ` + policyColumns + ` FROM policy_versions WHERE version = $1`

	v, err := scanPolicyVersion(r.db.Pool.QueryRow(ctx, query, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// List returns recent versions, newest first. Content is included so
// operators can diff versions.
func (r *PolicyRepository) List(ctx context.Context, limit int) ([]*policy.Version, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + policyColumns + ` FROM policy_versions ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*policy.Version
	for rows.Next() {
		v, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Activate inserts the new version and clears the previous active flag in
// one transaction. No reader ever observes zero or two active rows
// committed.
func (r *PolicyRepository) Activate(ctx context.Context, v *policy.Version) error {
	contentBytes, err := json.Marshal(v.Content)
	if err != nil {
		return fmt.Errorf("encode policy content: %w", err)
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE policy_versions SET is_active = false WHERE is_active = true`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO policy_versions (
				id, version, content, hash, change_type, change_summary,
				changed_by, created_at, is_active, previous_version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			v.ID,
			v.Version,
			contentBytes,
			v.Hash,
			v.ChangeType,
			v.ChangeSummary,
			v.ChangedBy,
			v.CreatedAt,
			v.IsActive,
			nullableString(v.PreviousVersion),
		)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicyVersion(row rowScanner) (*policy.Version, error) {
	var (
		v            policy.Version
		contentBytes []byte
		previous     *string
	)
	if err := row.Scan(
		&v.ID,
		&v.Version,
		&contentBytes,
		&v.Hash,
		&v.ChangeType,
		&v.ChangeSummary,
		&v.ChangedBy,
		&v.CreatedAt,
		&v.IsActive,
		&previous,
	); err != nil {
		return nil, err
	}
	v.Content = &policy.Content{}
	if err := json.Unmarshal(contentBytes, v.Content); err != nil {
		return nil, fmt.Errorf("decode policy content: %w", err)
	}
	if previous != nil {
		v.PreviousVersion = *previous
	}
	return &v, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
