package execution

import (
	"errors"
	"fmt"

	"github.com/you/flash-arb/internal/admin"
	"github.com/you/flash-arb/internal/strategy"
)

// Error kinds. Every error returned by the executor wraps at most one of
// these; anything else is a venue or lending failure passed through as is.
var (
	ErrAuthorization   = admin.ErrAuthorization
	ErrConfiguration   = errors.New("invalid configuration")
	ErrProfitShortfall = errors.New("profit shortfall")
	ErrDecoding        = strategy.ErrDecoding
)

var (
	ErrNotOwner          = admin.ErrNotOwner
	ErrUntrustedCallback = fmt.Errorf("%w: callback not from lending facility", ErrAuthorization)
	ErrNoPendingLoan     = fmt.Errorf("%w: no loan pending", ErrAuthorization)
	ErrReentrant         = fmt.Errorf("%w: execution already in flight", ErrAuthorization)

	ErrPaused            = fmt.Errorf("%w: executor is paused", ErrConfiguration)
	ErrZeroAmount        = fmt.Errorf("%w: zero loan amount", ErrConfiguration)
	ErrRouterNotApproved = fmt.Errorf("%w: router not approved", ErrConfiguration)
	ErrUnknownRouter     = fmt.Errorf("%w: router not registered", ErrConfiguration)
	ErrAssetMismatch     = fmt.Errorf("%w: payload does not start from the borrowed asset", ErrConfiguration)
	ErrLoanShape         = fmt.Errorf("%w: unexpected loan shape", ErrConfiguration)

	ErrUnknownStrategy = strategy.ErrUnknownStrategy
)

const (
	KindAuthorization   = "authorization"
	KindConfiguration   = "configuration"
	KindProfitShortfall = "profit_shortfall"
	KindDecoding        = "decoding"
	KindVenue           = "venue"
)

// Kind labels err with its place in the error taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrProfitShortfall):
		return KindProfitShortfall
	case errors.Is(err, ErrDecoding):
		return KindDecoding
	default:
		return KindVenue
	}
}
