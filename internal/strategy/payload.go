package strategy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Tag is the leading word of an encoded payload.
type Tag uint8

const (
	TagFeeTier       Tag = 1
	TagCrossProtocol Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagFeeTier:
		return "fee_tier"
	case TagCrossProtocol:
		return "cross_protocol"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// maxFee keeps decoded uint24 fee tiers inside the router's fee denominator.
const maxFee = 1_000_000

var (
	ErrDecoding        = errors.New("payload decoding failed")
	ErrUnknownStrategy = fmt.Errorf("%w: unknown strategy tag", ErrDecoding)
)

// Payload is one of FeeTierArb or CrossProtocolArb.
type Payload interface {
	Tag() Tag
	MinProfitFloor() *big.Int
	isPayload()
}

// FeeTierArb buys TokenB with TokenA at BuyFee and sells it back at SellFee.
// The caller decides which tier is cheaper.
type FeeTierArb struct {
	TokenA    common.Address
	TokenB    common.Address
	BuyFee    uint32
	SellFee   uint32
	MinProfit *big.Int
}

// CrossProtocolArb trades TokenIn -> TokenOut -> TokenIn across the
// concentrated-liquidity venue (fee tier V3Fee) and the classic AMM behind
// V2Router. V3ToV2 buys on the concentrated venue first.
type CrossProtocolArb struct {
	TokenIn   common.Address
	TokenOut  common.Address
	V3Fee     uint32
	V2Router  common.Address
	V3ToV2    bool
	MinProfit *big.Int
}

func (FeeTierArb) Tag() Tag       { return TagFeeTier }
func (CrossProtocolArb) Tag() Tag { return TagCrossProtocol }

func (p FeeTierArb) MinProfitFloor() *big.Int       { return orZero(p.MinProfit) }
func (p CrossProtocolArb) MinProfitFloor() *big.Int { return orZero(p.MinProfit) }

func (FeeTierArb) isPayload()       {}
func (CrossProtocolArb) isPayload() {}

var (
	uint8T   = mustType("uint8")
	uint24T  = mustType("uint24")
	uint256T = mustType("uint256")
	addressT = mustType("address")
	boolT    = mustType("bool")

	tagArgs = abi.Arguments{{Type: uint8T}}

	// abi.encode(uint8 tag, address tokenA, address tokenB, uint24 buyFee, uint24 sellFee, uint256 minProfit)
	feeTierArgs = abi.Arguments{
		{Type: uint8T}, {Type: addressT}, {Type: addressT}, {Type: uint24T}, {Type: uint24T}, {Type: uint256T},
	}
	// abi.encode(uint8 tag, address tokenIn, address tokenOut, uint24 v3Fee, address v2Router, bool v3ToV2, uint256 minProfit)
	crossProtocolArgs = abi.Arguments{
		{Type: uint8T}, {Type: addressT}, {Type: addressT}, {Type: uint24T}, {Type: addressT}, {Type: boolT}, {Type: uint256T},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Encode packs the payload the way the on-chain executor abi-encodes it.
func Encode(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case FeeTierArb:
		return feeTierArgs.Pack(uint8(TagFeeTier), v.TokenA, v.TokenB,
			new(big.Int).SetUint64(uint64(v.BuyFee)), new(big.Int).SetUint64(uint64(v.SellFee)), orZero(v.MinProfit))
	case CrossProtocolArb:
		return crossProtocolArgs.Pack(uint8(TagCrossProtocol), v.TokenIn, v.TokenOut,
			new(big.Int).SetUint64(uint64(v.V3Fee)), v.V2Router, v.V3ToV2, orZero(v.MinProfit))
	case nil:
		return nil, errors.New("encode: nil payload")
	default:
		return nil, fmt.Errorf("encode: unsupported payload %T", p)
	}
}

// DecodeTag reads only the leading tag word.
func DecodeTag(data []byte) (Tag, error) {
	vals, err := tagArgs.Unpack(data)
	if err != nil {
		return 0, fmt.Errorf("%w: tag: %v", ErrDecoding, err)
	}
	return Tag(vals[0].(uint8)), nil
}

// Decode reads the tag and then decodes the whole payload in that tag's
// shape. Unknown tags are an error.
func Decode(data []byte) (Payload, error) {
	tag, err := DecodeTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagFeeTier:
		vals, err := feeTierArgs.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecoding, tag, err)
		}
		buy, err := feeValue(vals[3])
		if err != nil {
			return nil, err
		}
		sell, err := feeValue(vals[4])
		if err != nil {
			return nil, err
		}
		return FeeTierArb{
			TokenA:    vals[1].(common.Address),
			TokenB:    vals[2].(common.Address),
			BuyFee:    buy,
			SellFee:   sell,
			MinProfit: vals[5].(*big.Int),
		}, nil
	case TagCrossProtocol:
		vals, err := crossProtocolArgs.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecoding, tag, err)
		}
		fee, err := feeValue(vals[3])
		if err != nil {
			return nil, err
		}
		return CrossProtocolArb{
			TokenIn:   vals[1].(common.Address),
			TokenOut:  vals[2].(common.Address),
			V3Fee:     fee,
			V2Router:  vals[4].(common.Address),
			V3ToV2:    vals[5].(bool),
			MinProfit: vals[6].(*big.Int),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, uint8(tag))
	}
}

// Digest fingerprints an encoded payload.
func Digest(data []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func feeValue(v interface{}) (uint32, error) {
	b, ok := v.(*big.Int)
	if !ok || !b.IsUint64() || b.Uint64() >= maxFee {
		return 0, fmt.Errorf("%w: fee tier %v out of range", ErrDecoding, v)
	}
	return uint32(b.Uint64()), nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
