// Package footprint 将一次价格跳动换算为各价格 Bin 上的买卖量。
//
// 成交量用价格位移代替: |Δprice| * 100 四舍五入为整数。跨越 Bin 边界时，
// 按到边界的距离拆分，最后一个 Bin 的量由总量减去前面各段得到，保证总量守恒。
package footprint

import (
	"footprint-flow/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNoPriceChange 调用方必须先过滤掉价格未变的 Tick
var ErrNoPriceChange = errors.New("footprint: previous and current price are equal")

var (
	scale   = decimal.NewFromInt(model.VolumeScale)
	fullBin = int64(model.VolumeScale)
)

// Bin 返回价格所在的整数价位 floor(price)
func Bin(price decimal.Decimal) int64 {
	return price.Floor().IntPart()
}

// Scaled 返回 round(|d| * 100)
func Scaled(d decimal.Decimal) int64 {
	return d.Abs().Mul(scale).Round(0).IntPart()
}

// Attribute 计算 prev -> curr 这次跳动的归属
// 结果按价格经过的顺序排列，所有归属方向相同，数量之和等于 Scaled(curr - prev)。
// 位移不足 0.005 时返回空切片。
func Attribute(prev, curr decimal.Decimal) ([]model.Contribution, error) {
	if prev.Equal(curr) {
		return nil, ErrNoPriceChange
	}

	velocity := curr.Sub(prev)
	side := model.SideSell
	if velocity.IsPositive() {
		side = model.SideBuy
	}

	total := Scaled(velocity)
	if total == 0 {
		return []model.Contribution{}, nil
	}

	prevBin, currBin := Bin(prev), Bin(curr)
	if prevBin == currBin {
		return []model.Contribution{{Bin: currBin, Side: side, Amount: total}}, nil
	}

	// 跨 Bin: 起始 Bin 取到边界的距离，中间完整经过的 Bin 各 100，落点 Bin 取余量
	var (
		boundary decimal.Decimal
		step     int64
	)
	if side == model.SideBuy {
		boundary = decimal.NewFromInt(prevBin + 1)
		step = 1
	} else {
		boundary = decimal.NewFromInt(prevBin)
		step = -1
	}

	first := Scaled(boundary.Sub(prev))
	out := make([]model.Contribution, 0, abs(currBin-prevBin)+1)
	out = append(out, model.Contribution{Bin: prevBin, Side: side, Amount: first})

	remaining := total - first
	for bin := prevBin + step; bin != currBin; bin += step {
		out = append(out, model.Contribution{Bin: bin, Side: side, Amount: fullBin})
		remaining -= fullBin
	}
	out = append(out, model.Contribution{Bin: currBin, Side: side, Amount: remaining})

	return out, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
