package liquidator

import "math/big"

const bpsDenominator = 10_000

// Health estimates collateral + unrealized PnL - maintenance margin for a
// single position. Division truncates toward zero. The program recomputes
// this on chain, so the result only decides whether to try a liquidation.
func Health(collateral *big.Int, basePosition int64, entryPrice uint64, markPrice int64, mmBps uint16) *big.Int {
	health := new(big.Int).Set(collateral)
	if basePosition == 0 {
		return health
	}

	qty := big.NewInt(basePosition)
	mark := big.NewInt(markPrice)

	pnl := new(big.Int).Sub(mark, new(big.Int).SetUint64(entryPrice))
	pnl.Mul(pnl, qty)
	health.Add(health, pnl)

	margin := new(big.Int).Abs(qty)
	margin.Mul(margin, mark)
	margin.Mul(margin, big.NewInt(int64(mmBps)))
	margin.Quo(margin, big.NewInt(bpsDenominator))
	return health.Sub(health, margin)
}
