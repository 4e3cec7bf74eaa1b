// Package persona 定义投票契约和四个分析人格。
// 人格只读市场快照、只产出投票，仓位与风控一概不归它们管。
package persona

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"quorum/internal/logger"
	"quorum/internal/market"
)

type Signal string

const (
	SignalLong    Signal = "LONG"
	SignalShort   Signal = "SHORT"
	SignalNeutral Signal = "NEUTRAL"
)

// Opposite 返回反方向，NEUTRAL 返回自身。
func (s Signal) Opposite() Signal {
	switch s {
	case SignalLong:
		return SignalShort
	case SignalShort:
		return SignalLong
	}
	return SignalNeutral
}

// neutralConfCap 保证中性票永远到不了开仓门槛
const neutralConfCap = 0.75

// Vote 是单个人格对单个交易对的一次判断。
type Vote struct {
	Persona    string         `json:"persona"`
	Signal     Signal         `json:"signal"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// NewVote 在构造点完成校验：非法信号归为中性，置信度收敛到 [0,1]，
// 中性票的置信度额外压到开仓门槛之下。
func NewVote(persona string, signal Signal, confidence float64, reasoning string) Vote {
	switch signal {
	case SignalLong, SignalShort, SignalNeutral:
	default:
		signal = SignalNeutral
		reasoning = strings.TrimSpace("invalid signal; " + reasoning)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if signal == SignalNeutral && confidence > neutralConfCap {
		confidence = neutralConfCap
	}
	return Vote{
		Persona:    persona,
		Signal:     signal,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

// Fallback 是人格失败时的兜底票。
func Fallback(persona, cause string) Vote {
	return Vote{
		Persona:    persona,
		Signal:     SignalNeutral,
		Confidence: 0,
		Reasoning:  cause,
	}
}

// Persona 是分析人格的统一接口。实现只需返回错误，
// 兜底降级统一由 SafeAnalyze 处理。
type Persona interface {
	Name() string
	Analyze(ctx context.Context, snap market.PairSnapshot) (Vote, error)
}

// SafeAnalyze 吞掉 panic 和错误，保证每个人格总能交出一张票。
func SafeAnalyze(ctx context.Context, p Persona, snap market.PairSnapshot) (vote Vote) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("人格 %s 崩溃 (%s): %v\n%s", p.Name(), snap.Symbol, r, debug.Stack())
			vote = Fallback(p.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()
	vote, err := p.Analyze(ctx, snap)
	if err != nil {
		logger.Warnf("人格 %s 分析 %s 失败: %v", p.Name(), snap.Symbol, err)
		return Fallback(p.Name(), err.Error())
	}
	vote.Persona = p.Name()
	return vote
}
