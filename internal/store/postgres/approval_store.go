package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalStore implements admin.Store.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

func (s *ApprovalStore) LoadApprovals(ctx context.Context) (map[common.Address]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT router, approved FROM router_approvals")
	if err != nil {
		return nil, fmt.Errorf("postgres: load approvals: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]bool)
	for rows.Next() {
		var router string
		var approved bool
		if err := rows.Scan(&router, &approved); err != nil {
			return nil, fmt.Errorf("postgres: scan approval: %w", err)
		}
		if approved {
			out[common.HexToAddress(router)] = true
		}
	}
	return out, rows.Err()
}

func (s *ApprovalStore) SaveApproval(ctx context.Context, router common.Address, approved bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO router_approvals (router, approved, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (router) DO UPDATE SET approved = EXCLUDED.approved, updated_at = NOW()`,
		router.Hex(), approved,
	)
	if err != nil {
		return fmt.Errorf("postgres: save approval %s: %w", router.Hex(), err)
	}
	return nil
}
