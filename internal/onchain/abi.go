package onchain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// executorABI is the deployed flash-loan executor's external surface.
const executorABI = `[
{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"tokenB","type":"address"},{"name":"buyFee","type":"uint24"},{"name":"sellFee","type":"uint24"},{"name":"minProfit","type":"uint256"}],"name":"executeFeeTierArbitrage","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"tokenOut","type":"address"},{"name":"v3Fee","type":"uint24"},{"name":"v2Router","type":"address"},{"name":"v3ToV2","type":"bool"},{"name":"minProfit","type":"uint256"}],"name":"executeCrossProtocolArbitrage","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"pause","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"unpause","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"router","type":"address"},{"name":"approved","type":"bool"}],"name":"setRouterApproval","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"amount","type":"uint256"}],"name":"withdrawETH","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"totalProfits","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalArbitrages","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"paused","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var contractABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		panic(fmt.Sprintf("parse executor abi: %v", err))
	}
	return parsed
}()
