package bot

import (
	"context"

	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Admin runs ops against the sim world as its owner, stopping at the first
// failure.
func (b *Bot) Admin(ctx context.Context, ops types.AdminOps) error {
	if ops.Empty() {
		return types.ErrNoOps
	}
	if err := ops.Validate(); err != nil {
		return err
	}
	w := b.world
	if ops.Unpause {
		if err := w.Controls.Unpause(w.Owner); err != nil {
			return err
		}
	}
	for _, r := range ops.Approve {
		if err := w.Controls.SetRouterApproval(ctx, w.Owner, r, true); err != nil {
			return err
		}
	}
	for _, r := range ops.Revoke {
		if err := w.Controls.SetRouterApproval(ctx, w.Owner, r, false); err != nil {
			return err
		}
	}
	for _, wd := range ops.Withdraw {
		var err error
		if wd.Token == chain.Native {
			_, err = w.Executor.WithdrawNative(w.Owner, wd.Amount)
		} else {
			_, err = w.Executor.Withdraw(w.Owner, wd.Token, wd.Amount)
		}
		if err != nil {
			return err
		}
	}
	if ops.Pause {
		if err := w.Controls.Pause(w.Owner); err != nil {
			return err
		}
	}
	b.log.Info("admin ops applied",
		zap.Bool("paused", w.Controls.Paused()),
		zap.Int("approved_routers", len(w.Controls.ApprovedRouters())),
		zap.Int("withdrawals", len(ops.Withdraw)),
	)
	return nil
}
