package executor

import (
	"crypto-signal-bot/internal/model"
	"math"
)

// AdjustOrder 对参考价应用滑点，并从成交数量中扣除手续费。
// 买单价格上浮，卖单价格下浮；数量不会小于 0。
func AdjustOrder(price float64, side model.Side, requestedAmount, slippage, feeRate float64) model.OrderParams {
	adjusted := price * (1 + slippage)
	if side == model.SideSell {
		adjusted = price * (1 - slippage)
	}

	params := model.OrderParams{Price: adjusted, OriginalAmount: requestedAmount}
	if adjusted <= 0 || requestedAmount <= 0 {
		return params
	}

	params.Fee = requestedAmount * adjusted * feeRate
	params.Amount = math.Max(requestedAmount-params.Fee/adjusted, 0)
	return params
}

// SizingLimits 交易所最小下单限制与余额保护
type SizingLimits struct {
	MinOrderSize float64 // 最小下单数量 (基础货币)
	MinNotional  float64 // 最小下单金额 (计价货币)
	// EnforceBalance 为 true 时，下单金额不得超过 可用余额 - BalanceFloor
	EnforceBalance bool
	BalanceFloor   float64
}

// SizePosition 按风险比例计算开仓数量，不足最小金额时抬升到最小金额。
// 返回 0 表示不交易。
func SizePosition(availableBalance, riskPct, currentPrice float64, limits SizingLimits) float64 {
	if currentPrice <= 0 || availableBalance <= 0 || riskPct <= 0 {
		return 0
	}

	qty := availableBalance * riskPct / currentPrice
	if qty*currentPrice < limits.MinNotional {
		qty = limits.MinNotional / currentPrice
	}
	qty = math.Max(qty, limits.MinOrderSize)

	if limits.EnforceBalance {
		spendable := availableBalance - limits.BalanceFloor
		if spendable <= 0 || qty*currentPrice > spendable {
			return 0
		}
	}
	return qty
}
