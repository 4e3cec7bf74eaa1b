// Package judge 把四个人格的投票裁决成最终动作。
// 裁决只依赖输入快照，本身无状态，权重表可热更新。
package judge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quorum/internal/config"
	"quorum/internal/config/loader"
	"quorum/internal/logger"
	"quorum/internal/persona"
	"quorum/internal/regime"
)

type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionWait  Action = "WAIT"
)

// 配置缺省值，config.JudgeConfig 零值时生效。
const (
	confidenceFloor    = 0.80 // 开仓门槛
	overrideConfidence = 0.70 // 反优柔寡断覆写的单票门槛
	hedgeConfidence    = 0.90 // 持反向仓时的对冲门槛
	cooldownOverride   = 0.85 // 冷却期内破例开仓的门槛
	coPrimaryConf      = 0.65 // whale+flow 共同主导的单票门槛
	minScoreShare      = 0.38
	minScoreRatio      = 1.15
	fearSlackThreshold = 20 // 极度恐慌时集中度上限放宽 +1
)

// 权重表缺省值，personas.yaml 不可用时兜底。
var (
	defaultWithTrend = loader.WeightTable{"whale": 2.0, "sentiment": 1.5, "flow": 2.0, "technical": 1.2}
	defaultCounter   = loader.WeightTable{"whale": 1.2, "sentiment": 0.8, "flow": 1.2, "technical": 0.6}
	defaultNeutral   = loader.WeightTable{"whale": 1.5, "sentiment": 1.0, "flow": 1.5, "technical": 1.0}
)

// ProfileSource 提供当前权重配置，由 config/loader 实现。
type ProfileSource interface {
	Snapshot() loader.ProfileSnapshot
}

// Input 是一次裁决需要的全部上下文。
type Input struct {
	Symbol string
	Votes  []persona.Vote
	Regime regime.Snapshot

	HeldSide      persona.Signal // 当前持仓方向，未持仓为 NEUTRAL
	OpenLongs     int            // 在持多头仓位数
	OpenShorts    int            // 在持空头仓位数
	MaxSameSide   int            // 同向集中度上限
	CooldownUntil time.Time      // 该交易对的亏损冷却截止
	Now           time.Time
}

// Decision 是裁决结果，附带完整打分便于审计。
type Decision struct {
	Symbol     string         `json:"symbol"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	LongScore  float64        `json:"long_score"`
	ShortScore float64        `json:"short_score"`
	Regime     regime.State   `json:"regime"`
	Votes      []persona.Vote `json:"votes"`
}

type Judge struct {
	cfg      config.JudgeConfig
	profiles ProfileSource
}

func New(cfg config.JudgeConfig, profiles ProfileSource) *Judge {
	return &Judge{cfg: cfg, profiles: profiles}
}

// Decide 按固定顺序裁决：加权打分 -> 份额/比值 -> 置信门槛 ->
// 反优柔寡断覆写 -> 持仓过滤。
func (j *Judge) Decide(in Input) Decision {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	dec := Decision{
		Symbol: in.Symbol,
		Action: ActionWait,
		Regime: in.Regime.State,
		Votes:  in.Votes,
	}
	var reasons []string

	longScore, longConf := j.sideScore(in, persona.SignalLong)
	shortScore, shortConf := j.sideScore(in, persona.SignalShort)
	dec.LongScore = round2(longScore)
	dec.ShortScore = round2(shortScore)

	action, conf, why := j.pickWinner(in, longScore, shortScore, longConf, shortConf)
	reasons = append(reasons, why...)

	if action == ActionWait {
		if od, oc, owhy := j.antiIndecision(in.Votes); od != ActionWait {
			action, conf = od, oc
			reasons = append(reasons, owhy)
		}
	}

	if action != ActionWait {
		action, conf, reasons = j.applyPositionFilters(in, action, conf, reasons)
	}

	dec.Action = action
	dec.Confidence = round2(conf)
	dec.Reasoning = strings.Join(reasons, "；")
	logger.Debugf("裁决 %s: %s conf=%.2f long=%.2f short=%.2f regime=%s",
		in.Symbol, dec.Action, dec.Confidence, longScore, shortScore, in.Regime.State)
	return dec
}

// sideScore 返回某方向的加权总分和加权平均置信度。
func (j *Judge) sideScore(in Input, side persona.Signal) (score, avgConf float64) {
	var weightSum float64
	for _, v := range in.Votes {
		if v.Signal != side {
			continue
		}
		w := j.weightFor(v.Persona, side, in.Regime.State)
		score += w * v.Confidence
		weightSum += w
		avgConf += w * v.Confidence
	}
	if weightSum > 0 {
		avgConf /= weightSum
	}
	return score, avgConf
}

// weightFor 按候选方向与 regime 的关系选表：顺势、逆势或中性。
// 表是对称的，多空本身不带偏置。
func (j *Judge) weightFor(personaName string, side persona.Signal, state regime.State) float64 {
	withTrend, counter, neutral := j.tables()
	var table loader.WeightTable
	switch {
	case state.IsBullish():
		if side == persona.SignalLong {
			table = withTrend
		} else {
			table = counter
		}
	case state.IsBearish():
		if side == persona.SignalShort {
			table = withTrend
		} else {
			table = counter
		}
	default:
		table = neutral
	}
	if w, ok := table[strings.ToLower(personaName)]; ok {
		return w
	}
	return 1.0
}

func (j *Judge) tables() (withTrend, counter, neutral loader.WeightTable) {
	if j.profiles != nil {
		if def, ok := j.profiles.Snapshot().Active(); ok {
			return def.WithTrend, def.CounterTrend, def.Neutral
		}
	}
	return defaultWithTrend, defaultCounter, defaultNeutral
}

// pickWinner 做份额、比值、置信门槛三重检查。
// whale+flow 双主导（各 ≥0.65 同向）可豁免置信门槛。
func (j *Judge) pickWinner(in Input, longScore, shortScore, longConf, shortConf float64) (Action, float64, []string) {
	total := longScore + shortScore
	if total <= 0 {
		return ActionWait, 0, []string{"无有效方向票"}
	}
	action := ActionLong
	winner, loser, conf := longScore, shortScore, longConf
	side := persona.SignalLong
	if shortScore > longScore {
		action = ActionShort
		winner, loser, conf = shortScore, longScore, shortConf
		side = persona.SignalShort
	}

	share := winner / total
	if minShare := j.scoreShare(); share < minShare {
		return ActionWait, 0, []string{fmt.Sprintf("胜方份额 %.2f < %.2f", share, minShare)}
	}
	if minRatio := j.scoreRatio(); loser > 0 && winner/loser < minRatio {
		return ActionWait, 0, []string{fmt.Sprintf("胜负比 %.2f < %.2f，分歧过大", winner/loser, minRatio)}
	}
	var reasons []string
	if floor := j.confidenceFloor(); conf < floor {
		if !coPrimaryAgreement(in.Votes, side) {
			return ActionWait, 0, []string{fmt.Sprintf("置信度 %.2f 未达门槛 %.2f", conf, floor)}
		}
		// 豁免的决策置信度抬到门槛，后续过滤按门槛水平对待它
		conf = floor
		reasons = append(reasons, "whale+flow 双主导豁免置信门槛")
	}
	reasons = append(reasons, fmt.Sprintf("%s 得分 %.2f 份额 %.2f", action, winner, share))
	return action, conf, reasons
}

// coPrimaryAgreement 检查 whale 与 flow 是否同向且各自 ≥0.65。
func coPrimaryAgreement(votes []persona.Vote, side persona.Signal) bool {
	var whaleOK, flowOK bool
	for _, v := range votes {
		if v.Signal != side || v.Confidence < coPrimaryConf {
			continue
		}
		switch strings.ToLower(v.Persona) {
		case "whale":
			whaleOK = true
		case "flow":
			flowOK = true
		}
	}
	return whaleOK && flowOK
}

// antiIndecision：≥2 票同向且各达单票门槛，对侧无同级别反对票时，
// WAIT 翻转为该方向。
func (j *Judge) antiIndecision(votes []persona.Vote) (Action, float64, string) {
	override := j.overrideConfidence()
	for _, side := range []persona.Signal{persona.SignalLong, persona.SignalShort} {
		var agree int
		var confSum float64
		blocked := false
		for _, v := range votes {
			if v.Confidence < override {
				continue
			}
			switch v.Signal {
			case side:
				agree++
				confSum += v.Confidence
			case side.Opposite():
				blocked = true
			}
		}
		if agree >= 2 && !blocked {
			action := ActionLong
			if side == persona.SignalShort {
				action = ActionShort
			}
			return action, confSum / float64(agree),
				fmt.Sprintf("反优柔寡断覆写：%d 票 %s 各 ≥%.2f", agree, side, override)
		}
	}
	return ActionWait, 0, ""
}

// applyPositionFilters 在方向确定后做持仓相关过滤。
func (j *Judge) applyPositionFilters(in Input, action Action, conf float64, reasons []string) (Action, float64, []string) {
	side := persona.SignalLong
	if action == ActionShort {
		side = persona.SignalShort
	}
	if in.HeldSide == side {
		return ActionWait, 0, append(reasons, "同方向已有持仓")
	}
	if hedge := j.hedgeConfidence(); in.HeldSide == side.Opposite() && conf < hedge {
		return ActionWait, 0, append(reasons,
			fmt.Sprintf("持反向仓，对冲需要 ≥%.2f", hedge))
	}
	limit := in.MaxSameSide
	if limit > 0 {
		sameSide := in.OpenLongs
		if side == persona.SignalShort {
			sameSide = in.OpenShorts
		}
		if in.Regime.FearGreed < fearSlackThreshold {
			limit++ // 极端恐慌时常是好机会，放宽一个名额
		}
		if sameSide >= limit {
			return ActionWait, 0, append(reasons,
				fmt.Sprintf("同向仓位已达上限 %d", limit))
		}
	}
	if override := j.cooldownOverride(); in.CooldownUntil.After(in.Now) && conf < override {
		return ActionWait, 0, append(reasons,
			fmt.Sprintf("亏损冷却至 %s，需 ≥%.2f 才能破例", in.CooldownUntil.Format("15:04"), override))
	}
	return action, conf, reasons
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (j *Judge) confidenceFloor() float64 {
	if j.cfg.ConfidenceFloor > 0 {
		return j.cfg.ConfidenceFloor
	}
	return confidenceFloor
}

func (j *Judge) overrideConfidence() float64 {
	if j.cfg.OverrideConfidence > 0 {
		return j.cfg.OverrideConfidence
	}
	return overrideConfidence
}

func (j *Judge) hedgeConfidence() float64 {
	if j.cfg.HedgeConfidence > 0 {
		return j.cfg.HedgeConfidence
	}
	return hedgeConfidence
}

func (j *Judge) cooldownOverride() float64 {
	if j.cfg.CooldownOverride > 0 {
		return j.cfg.CooldownOverride
	}
	return cooldownOverride
}

func (j *Judge) scoreShare() float64 {
	if j.cfg.ScoreShare > 0 {
		return j.cfg.ScoreShare
	}
	return minScoreShare
}

func (j *Judge) scoreRatio() float64 {
	if j.cfg.ScoreRatio > 0 {
		return j.cfg.ScoreRatio
	}
	return minScoreRatio
}
