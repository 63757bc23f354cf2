package units

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Decimals maps tokens to their ERC-20 decimals.
type Decimals map[common.Address]int32

// Format renders amount of token in whole-token units. Unknown tokens are
// rendered in base units.
func (d Decimals) Format(token common.Address, amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	dec, ok := d[token]
	if !ok {
		return amount.String()
	}
	return decimal.NewFromBigInt(amount, -dec).String()
}

// Parse converts a whole-token amount such as "1.5" into base units,
// truncating anything beyond the token's precision.
func (d Decimals) Parse(token common.Address, s string) (*big.Int, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return v.Shift(d[token]).BigInt(), nil
}
