package persona

import (
	"context"
	"fmt"
	"math"
	"strings"

	"quorum/internal/market"
)

// Flow 读 taker 买卖比、盘口深度比和资金费率，判断短线资金流向。
// 纯函数式人格：只看快照，不发请求。
type Flow struct{}

func NewFlow() *Flow { return &Flow{} }

func (f *Flow) Name() string { return "flow" }

func (f *Flow) Analyze(_ context.Context, snap market.PairSnapshot) (Vote, error) {
	ratio := snap.TakerRatio
	depth := snap.DepthRatio

	var long, short float64
	var reasons []string
	depthWeight := 0.40

	switch {
	case ratio > 0 && ratio < 0.3:
		// 极端卖压直接定调，深度不再参与
		return NewVote(f.Name(), SignalShort, 0.85,
			fmt.Sprintf("taker 比 %.2f 极端偏卖", ratio)), nil
	case ratio > 3.0:
		return NewVote(f.Name(), SignalLong, 0.85,
			fmt.Sprintf("taker 比 %.2f 极端偏买", ratio)), nil
	case ratio > 0 && ratio < 0.5:
		short += 0.70
		depthWeight = 0.30
		reasons = append(reasons, fmt.Sprintf("taker 比 %.2f 偏卖", ratio))
	case ratio > 2.0:
		long += 0.70
		reasons = append(reasons, fmt.Sprintf("taker 比 %.2f 偏买", ratio))
	case ratio > 1.2:
		long += 0.50
		reasons = append(reasons, fmt.Sprintf("taker 比 %.2f 轻度偏买", ratio))
	case ratio > 0 && ratio < 0.8:
		short += 0.50
		reasons = append(reasons, fmt.Sprintf("taker 比 %.2f 轻度偏卖", ratio))
	}

	if depth > 1.3 {
		long += 0.40
		reasons = append(reasons, fmt.Sprintf("买盘深度比 %.2f", depth))
	} else if depth > 0 && depth < 1/1.3 {
		short += depthWeight
		reasons = append(reasons, fmt.Sprintf("卖盘深度比 %.2f", depth))
	}

	if snap.FundingRate > 0.0005 {
		short += 0.30
		reasons = append(reasons, fmt.Sprintf("资金费率 %.5f 多头拥挤", snap.FundingRate))
	} else if snap.FundingRate < -0.0003 {
		long += 0.30
		reasons = append(reasons, fmt.Sprintf("资金费率 %.5f 空头拥挤", snap.FundingRate))
	}

	signal := SignalNeutral
	score := 0.0
	switch {
	case long > short && long > 0.4:
		signal = SignalLong
		score = long
	case short > long && short > 0.4:
		signal = SignalShort
		score = short
	}
	if signal == SignalNeutral {
		return NewVote(f.Name(), SignalNeutral, 0.30, "资金流向无明显倾斜"), nil
	}
	return NewVote(f.Name(), signal, math.Min(0.85, score), strings.Join(reasons, "；")), nil
}
