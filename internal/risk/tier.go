// Package risk 把裁决结果换算成可执行的仓位参数。
package risk

import (
	"fmt"
	"strings"

	"quorum/internal/config"
)

// Tier 是交易对的波动层级，静态映射，每个交易对必须且只能属于一层。
type Tier struct {
	config.TierConfig
}

func (t Tier) Name() string { return fmt.Sprintf("T%d", t.Tier) }

// Table 提供交易对到层级的查找。
type Table struct {
	bySymbol map[string]Tier
}

func NewTable(tiers []config.TierConfig) *Table {
	bySymbol := make(map[string]Tier)
	for _, tc := range tiers {
		for _, sym := range tc.Symbols {
			bySymbol[strings.ToUpper(strings.TrimSpace(sym))] = Tier{tc}
		}
	}
	return &Table{bySymbol: bySymbol}
}

// TierFor 未入表的交易对直接拒绝，防止对未评估的币种下单。
func (t *Table) TierFor(symbol string) (Tier, error) {
	tier, ok := t.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Tier{}, fmt.Errorf("symbol %s has no tier assignment", symbol)
	}
	return tier, nil
}
