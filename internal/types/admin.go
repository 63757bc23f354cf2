package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Withdrawal moves Token out of the executor to its owner. A nil Amount
// means the whole balance; the zero address is the native currency.
type Withdrawal struct {
	Token  common.Address
	Amount *big.Int
}

// AdminOps is one batch of owner calls. They run in a fixed order: unpause,
// approvals, revocations, withdrawals, pause.
type AdminOps struct {
	Pause    bool
	Unpause  bool
	Approve  []common.Address
	Revoke   []common.Address
	Withdraw []Withdrawal
}

func (o AdminOps) Empty() bool {
	return !o.Pause && !o.Unpause && len(o.Approve) == 0 && len(o.Revoke) == 0 && len(o.Withdraw) == 0
}

func (o AdminOps) Validate() error {
	if o.Pause && o.Unpause {
		return fmt.Errorf("%w: pause and unpause together", ErrBadRequest)
	}
	return nil
}

// ParseWithdrawal reads "token[:amount]" with amount in base units. "native"
// names the native currency.
func ParseWithdrawal(s string) (Withdrawal, error) {
	tok, amt, hasAmt := strings.Cut(strings.TrimSpace(s), ":")
	var w Withdrawal
	if !strings.EqualFold(tok, "native") {
		a, err := parseAddress("withdraw token", tok)
		if err != nil {
			return Withdrawal{}, err
		}
		w.Token = a
	}
	if hasAmt {
		v, err := parseAmount("withdraw amount", amt)
		if err != nil {
			return Withdrawal{}, err
		}
		if v.Sign() > 0 {
			w.Amount = v
		}
	}
	return w, nil
}

// ParseAddresses reads a comma-separated address list; blanks are skipped.
func ParseAddresses(field, s string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		a, err := parseAddress(field, part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ErrNoOps is returned by callers asked to run an empty batch.
var ErrNoOps = fmt.Errorf("%w: no admin operation requested", ErrBadRequest)
