// Package engine 串起一轮完整决策：对账 -> 采样 -> 投票 -> 裁决 ->
// 风控 -> 执行。交易对按顺序处理，人格投票在对内并发。
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/config"
	"quorum/internal/gateway/exchange"
	"quorum/internal/judge"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/persona"
	"quorum/internal/regime"
	"quorum/internal/risk"
	"quorum/internal/store/decisionlog"
	"quorum/internal/tracker"

	"golang.org/x/sync/errgroup"
)

const candleWindow = 60 // 1h K 线采样窗口，够 SMA50 + ATR 基准

type Engine struct {
	cfg       config.Config
	source    market.Source
	gateway   exchange.Gateway
	fearGreed *market.FearGreedService
	detector  *regime.Detector
	personas  []persona.Persona
	judge     *judge.Judge
	riskMgr   *risk.Manager
	tracker   *tracker.Tracker
	declog    *decisionlog.Store
}

func New(cfg config.Config, source market.Source, gw exchange.Gateway,
	fg *market.FearGreedService, det *regime.Detector, personas []persona.Persona,
	j *judge.Judge, rm *risk.Manager, tr *tracker.Tracker, dl *decisionlog.Store) *Engine {
	return &Engine{
		cfg:       cfg,
		source:    source,
		gateway:   gw,
		fearGreed: fg,
		detector:  det,
		personas:  personas,
		judge:     j,
		riskMgr:   rm,
		tracker:   tr,
		declog:    dl,
	}
}

// RunCycle 执行一轮决策周期。单个交易对失败不拖垮整轮。
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	live, err := e.gateway.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: list positions: %w", err)
	}
	if err := e.tracker.Reconcile(live); err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}
	snap := e.detector.Current(ctx)
	logger.Infof("决策周期开始 regime=%s score=%d F&G=%d 在持=%d",
		snap.State, snap.Score, snap.FearGreed, len(live))

	for _, pair := range e.cfg.Engine.Pairs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.evaluatePair(ctx, pair, snap); err != nil {
			logger.Errorf("交易对 %s 本轮放弃: %v", pair, err)
		}
	}
	logger.Infof("决策周期结束，耗时 %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func (e *Engine) evaluatePair(ctx context.Context, symbol string, snap regime.Snapshot) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pairSnap, err := e.collect(ctx, symbol)
	if err != nil {
		return fmt.Errorf("collect market data: %w", err)
	}

	votes := e.fanInVotes(ctx, pairSnap)
	input, err := e.buildJudgeInput(ctx, symbol, votes, snap)
	if err != nil {
		return err
	}
	dec := e.judge.Decide(input)
	logger.InfoBlock(fmt.Sprintf("裁决 %s\n%s", symbol, formatDecision(dec)))

	if dec.Action == judge.ActionWait {
		e.logDecision(dec, false)
		return nil
	}
	if !e.cfg.Engine.AutoExecute {
		logger.Infof("auto_execute 关闭，%s %s 只记录不执行", symbol, dec.Action)
		e.logDecision(dec, false)
		return nil
	}
	decisionID := e.logDecisionSync(dec, true)
	return e.execute(ctx, pairSnap, dec, snap, decisionID)
}

// collect 为单个交易对采一份周期内一致的行情快照。
func (e *Engine) collect(ctx context.Context, symbol string) (market.PairSnapshot, error) {
	candles, err := e.source.FetchCandles(ctx, symbol, "1h", candleWindow)
	if err != nil {
		return market.PairSnapshot{}, err
	}
	if len(candles) == 0 {
		return market.PairSnapshot{}, fmt.Errorf("no candles for %s", symbol)
	}
	funding, err := e.source.FundingRate(ctx, symbol)
	if err != nil {
		logger.Warnf("资金费率获取失败 %s，按 0 处理: %v", symbol, err)
		funding = 0
	}
	depthRatio := 0.0
	if depth, err := e.source.Depth(ctx, symbol, 20); err == nil {
		depthRatio = depth.Ratio()
	} else {
		logger.Debugf("盘口深度获取失败 %s: %v", symbol, err)
	}
	price := candles[len(candles)-1].Close
	if last, err := e.source.LastPrice(ctx, symbol); err == nil && last > 0 {
		price = last
	}
	recent := candles
	if len(recent) > 12 {
		recent = recent[len(recent)-12:]
	}
	return market.PairSnapshot{
		Symbol:      symbol,
		Price:       price,
		Candles1h:   candles,
		TakerRatio:  market.TakerRatioFrom(recent),
		DepthRatio:  depthRatio,
		FundingRate: funding,
	}, nil
}

// fanInVotes 人格并发分析，任何失败都被 SafeAnalyze 兜成中性票。
func (e *Engine) fanInVotes(ctx context.Context, snap market.PairSnapshot) []persona.Vote {
	votes := make([]persona.Vote, len(e.personas))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.personas {
		g.Go(func() error {
			votes[i] = persona.SafeAnalyze(gctx, p, snap)
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

func (e *Engine) buildJudgeInput(ctx context.Context, symbol string, votes []persona.Vote, snap regime.Snapshot) (judge.Input, error) {
	trades, err := e.tracker.OpenTrades()
	if err != nil {
		return judge.Input{}, fmt.Errorf("read ledger: %w", err)
	}
	held := persona.SignalNeutral
	var longCount, shortCount int
	for _, tr := range trades {
		switch tr.Side {
		case "LONG":
			longCount++
		case "SHORT":
			shortCount++
		}
		if tr.Symbol == symbol {
			held = persona.Signal(tr.Side)
		}
	}
	input := judge.Input{
		Symbol:      symbol,
		Votes:       votes,
		Regime:      snap,
		HeldSide:    held,
		OpenLongs:   longCount,
		OpenShorts:  shortCount,
		MaxSameSide: e.cfg.Engine.ConcentrationCap,
		Now:         time.Now(),
	}
	if until, active := e.tracker.CooldownUntil(symbol); active {
		input.CooldownUntil = until
	}
	return input, nil
}

// execute 下单前重读余额与仓位，防止用到整轮开始时的过期数据。
func (e *Engine) execute(ctx context.Context, pairSnap market.PairSnapshot, dec judge.Decision, snap regime.Snapshot, decisionID int64) error {
	balance, err := e.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("refresh balance: %w", err)
	}
	positions, err := e.gateway.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("refresh positions: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == pairSnap.Symbol && p.Side == string(dec.Action) {
			logger.Warnf("%s %s 已有同向仓位，放弃执行", pairSnap.Symbol, dec.Action)
			return nil
		}
	}

	plan, err := e.riskMgr.Plan(pairSnap.Symbol, string(dec.Action), balance.Equity,
		dec.Confidence, pairSnap.Price, pairSnap.Candles1h, snap.State, snap.FearGreed,
		e.cfg.Engine.MaxPositions)
	if err != nil {
		return fmt.Errorf("risk plan: %w", err)
	}

	result, err := e.gateway.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:     plan.Symbol,
		Side:       plan.Side,
		MarginUSD:  plan.MarginUSD,
		Leverage:   plan.Leverage,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		Reason:     dec.Reasoning,
	})
	if err != nil {
		// 交易所故障不盲目重试，留给下一轮
		return fmt.Errorf("open position: %w", err)
	}

	if _, err := e.tracker.RecordOpen(tracker.Trade{
		Symbol:     result.Symbol,
		Side:       result.Side,
		EntryPrice: result.EntryPrice,
		Quantity:   result.Quantity,
		MarginUSD:  plan.MarginUSD,
		Leverage:   result.Leverage,
		StopLoss:   result.StopLoss,
		TakeProfit: result.TakeProfit,
		Tier:       plan.Tier.Name(),
		OpenedAt:   time.Now(),
		OrderID:    result.OrderID,
		DecisionID: decisionID,
		Votes:      dec.Votes,
	}); err != nil {
		logger.Errorf("账本登记失败 %s（仓位已在交易所）: %v", result.Symbol, err)
	}
	logger.Infof("开仓完成 %s %s margin=%.2f lev=%d entry=%.4f sl=%.4f tp=%.4f",
		result.Symbol, result.Side, plan.MarginUSD, result.Leverage,
		result.EntryPrice, result.StopLoss, result.TakeProfit)
	return nil
}

// logDecision 尽力而为写决策日志，失败只告警。
func (e *Engine) logDecision(dec judge.Decision, executed bool) {
	if e.declog == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.declog.InsertDecision(ctx, toRecord(dec, executed)); err != nil {
			logger.Warnf("决策日志写入失败 %s: %v", dec.Symbol, err)
		}
	}()
}

// logDecisionSync 同步写并返回 ID，执行路径需要把结果挂回裁决。
func (e *Engine) logDecisionSync(dec judge.Decision, executed bool) int64 {
	if e.declog == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := e.declog.InsertDecision(ctx, toRecord(dec, executed))
	if err != nil {
		logger.Warnf("决策日志写入失败 %s: %v", dec.Symbol, err)
		return 0
	}
	return id
}

func toRecord(dec judge.Decision, executed bool) decisionlog.DecisionRecord {
	return decisionlog.DecisionRecord{
		Symbol:     dec.Symbol,
		Action:     string(dec.Action),
		Confidence: dec.Confidence,
		Reasoning:  dec.Reasoning,
		Regime:     string(dec.Regime),
		LongScore:  dec.LongScore,
		ShortScore: dec.ShortScore,
		Executed:   executed,
		Votes:      dec.Votes,
	}
}

func formatDecision(dec judge.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action=%s conf=%.2f long=%.2f short=%.2f\n",
		dec.Action, dec.Confidence, dec.LongScore, dec.ShortScore)
	for _, v := range dec.Votes {
		fmt.Fprintf(&b, "  %-10s %-7s %.2f  %s\n", v.Persona, v.Signal, v.Confidence, v.Reasoning)
	}
	fmt.Fprintf(&b, "reasoning: %s", dec.Reasoning)
	return b.String()
}
