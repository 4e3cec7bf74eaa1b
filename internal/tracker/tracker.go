// Package tracker 持久化自有仓位账本与亏损冷却，基于 gorm + SQLite。
// 交易所是事实源，账本负责记录开仓上下文（票、层级、护栏）供监控与审计。
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quorum/internal/gateway/exchange"
	"quorum/internal/logger"
	"quorum/internal/persona"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type TradeStatus int

const (
	TradeStatusOpen   TradeStatus = 1
	TradeStatusClosed TradeStatus = 2
)

type tradeModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	Quantity      float64        `gorm:"column:quantity"`
	MarginUSD     float64        `gorm:"column:margin_usd"`
	Leverage      int            `gorm:"column:leverage"`
	StopLoss      float64        `gorm:"column:stop_loss"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Tier          string         `gorm:"column:tier"`
	Status        TradeStatus    `gorm:"column:status;index"`
	PeakPnLPct    float64        `gorm:"column:peak_pnl_pct"`
	OpenedAtUnix  int64          `gorm:"column:opened_at"`
	ClosedAtUnix  int64          `gorm:"column:closed_at"`
	ExitPrice     float64        `gorm:"column:exit_price"`
	ExitReason    string         `gorm:"column:exit_reason"`
	PnLUSD        float64        `gorm:"column:pnl_usd"`
	PnLPct        float64        `gorm:"column:pnl_pct"`
	OrderID       string         `gorm:"column:order_id"`
	ClientOrderID string         `gorm:"column:client_order_id"`
	DecisionID    int64          `gorm:"column:decision_id"`
	VotesJSON     datatypes.JSON `gorm:"column:votes_json;type:TEXT"`
}

func (tradeModel) TableName() string { return "trades" }

type cooldownModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Symbol        string `gorm:"column:symbol;uniqueIndex"`
	UntilUnix     int64  `gorm:"column:until_at"`
	Reason        string `gorm:"column:reason"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (cooldownModel) TableName() string { return "cooldowns" }

// Trade 是账本里的一笔交易。
type Trade struct {
	ID         int64
	Symbol     string
	Side       string
	EntryPrice float64
	Quantity   float64
	MarginUSD  float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	Tier       string
	PeakPnLPct float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitPrice  float64
	ExitReason string
	PnLUSD     float64
	PnLPct     float64
	OrderID    string
	DecisionID int64
	Votes      []persona.Vote
	Closed     bool
}

type Tracker struct {
	db *gorm.DB
}

func New(path string) (*Tracker, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("tracker: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tracker: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &cooldownModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：少量并行够用，锁竞争小
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Tracker{db: db}, nil
}

func (t *Tracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordOpen 登记一笔新开仓，返回账本 ID。
func (t *Tracker) RecordOpen(trade Trade) (int64, error) {
	votes, err := json.Marshal(trade.Votes)
	if err != nil {
		votes = []byte("[]")
	}
	m := tradeModel{
		Symbol:        strings.ToUpper(trade.Symbol),
		Side:          trade.Side,
		EntryPrice:    trade.EntryPrice,
		Quantity:      trade.Quantity,
		MarginUSD:     trade.MarginUSD,
		Leverage:      trade.Leverage,
		StopLoss:      trade.StopLoss,
		TakeProfit:    trade.TakeProfit,
		Tier:          trade.Tier,
		Status:        TradeStatusOpen,
		OpenedAtUnix:  trade.OpenedAt.Unix(),
		OrderID:       trade.OrderID,
		ClientOrderID: trade.OrderID,
		DecisionID:    trade.DecisionID,
		VotesJSON:     datatypes.JSON(votes),
	}
	if trade.OpenedAt.IsZero() {
		m.OpenedAtUnix = time.Now().Unix()
	}
	if err := t.db.Create(&m).Error; err != nil {
		return 0, fmt.Errorf("tracker: record open: %w", err)
	}
	return m.ID, nil
}

// OpenTrades 返回所有未平仓交易。
func (t *Tracker) OpenTrades() ([]Trade, error) {
	var models []tradeModel
	if err := t.db.Where("status = ?", TradeStatusOpen).Order("opened_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(models))
	for _, m := range models {
		out = append(out, fromModel(m))
	}
	return out, nil
}

// OpenTrade 按交易对查未平仓交易。
func (t *Tracker) OpenTrade(symbol string) (Trade, bool, error) {
	var m tradeModel
	err := t.db.Where("symbol = ? AND status = ?", strings.ToUpper(symbol), TradeStatusOpen).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Trade{}, false, nil
	}
	if err != nil {
		return Trade{}, false, err
	}
	return fromModel(m), true, nil
}

// RaisePeak 抬高峰值收益，只升不降。
func (t *Tracker) RaisePeak(id int64, peakPct float64) error {
	return t.db.Model(&tradeModel{}).
		Where("id = ? AND peak_pnl_pct < ?", id, peakPct).
		Update("peak_pnl_pct", peakPct).Error
}

// RecordClose 登记平仓结果。
func (t *Tracker) RecordClose(id int64, exitPrice, pnlUSD, pnlPct float64, reason string, closedAt time.Time) error {
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	return t.db.Model(&tradeModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":      TradeStatusClosed,
		"closed_at":   closedAt.Unix(),
		"exit_price":  exitPrice,
		"exit_reason": reason,
		"pnl_usd":     pnlUSD,
		"pnl_pct":     pnlPct,
	}).Error
}

// RecentClosed 返回最近平仓的交易，供状态 API 展示。
func (t *Tracker) RecentClosed(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []tradeModel
	if err := t.db.Where("status = ?", TradeStatusClosed).
		Order("closed_at desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(models))
	for _, m := range models {
		out = append(out, fromModel(m))
	}
	return out, nil
}

// SetCooldown 写入或延长某交易对的冷却。
func (t *Tracker) SetCooldown(symbol string, until time.Time, reason string) error {
	symbol = strings.ToUpper(symbol)
	var existing cooldownModel
	err := t.db.Where("symbol = ?", symbol).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return t.db.Create(&cooldownModel{
			Symbol:        symbol,
			UntilUnix:     until.Unix(),
			Reason:        reason,
			CreatedAtUnix: time.Now().Unix(),
		}).Error
	}
	if err != nil {
		return err
	}
	if existing.UntilUnix >= until.Unix() {
		return nil
	}
	return t.db.Model(&cooldownModel{}).Where("symbol = ?", symbol).Updates(map[string]any{
		"until_at": until.Unix(),
		"reason":   reason,
	}).Error
}

// CooldownUntil 返回冷却截止时间，不在冷却中时 ok=false。
func (t *Tracker) CooldownUntil(symbol string) (time.Time, bool) {
	var m cooldownModel
	err := t.db.Where("symbol = ?", strings.ToUpper(symbol)).First(&m).Error
	if err != nil {
		return time.Time{}, false
	}
	until := time.Unix(m.UntilUnix, 0)
	if until.Before(time.Now()) {
		return time.Time{}, false
	}
	return until, true
}

// Reconcile 对齐账本与交易所实际仓位：补登未跟踪仓位，关闭孤儿记录。
func (t *Tracker) Reconcile(live []exchange.Position) error {
	tracked, err := t.OpenTrades()
	if err != nil {
		return fmt.Errorf("tracker: reconcile list: %w", err)
	}
	liveBySymbol := make(map[string]exchange.Position, len(live))
	for _, p := range live {
		liveBySymbol[strings.ToUpper(p.Symbol)] = p
	}
	trackedSymbols := make(map[string]struct{}, len(tracked))
	for _, tr := range tracked {
		// 方向必须一致：交易所侧平掉再反手的仓位不能沿用旧账本行
		if p, ok := liveBySymbol[tr.Symbol]; ok && p.Side == tr.Side {
			trackedSymbols[tr.Symbol] = struct{}{}
			continue
		}
		// 交易所已经没有这笔仓位（护栏触发、手工平仓、反手）
		logger.Warnf("账本孤儿 %s %s，按交易所为准关闭", tr.Symbol, tr.Side)
		if err := t.RecordClose(tr.ID, 0, 0, 0, "reconcile_orphan", time.Now()); err != nil {
			return err
		}
	}
	for sym, p := range liveBySymbol {
		if _, ok := trackedSymbols[sym]; ok {
			continue
		}
		logger.Warnf("发现未跟踪仓位 %s %s size=%.6f，补登账本", sym, p.Side, p.Size)
		openedAt := p.OpenedAt
		if openedAt.IsZero() {
			openedAt = time.Now()
		}
		if _, err := t.RecordOpen(Trade{
			Symbol:     sym,
			Side:       p.Side,
			EntryPrice: p.EntryPrice,
			Quantity:   p.Size,
			Leverage:   p.Leverage,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			OpenedAt:   openedAt,
			OrderID:    "reconciled",
		}); err != nil {
			return err
		}
	}
	return nil
}

func fromModel(m tradeModel) Trade {
	trade := Trade{
		ID:         m.ID,
		Symbol:     m.Symbol,
		Side:       m.Side,
		EntryPrice: m.EntryPrice,
		Quantity:   m.Quantity,
		MarginUSD:  m.MarginUSD,
		Leverage:   m.Leverage,
		StopLoss:   m.StopLoss,
		TakeProfit: m.TakeProfit,
		Tier:       m.Tier,
		PeakPnLPct: m.PeakPnLPct,
		OpenedAt:   time.Unix(m.OpenedAtUnix, 0),
		ExitPrice:  m.ExitPrice,
		ExitReason: m.ExitReason,
		PnLUSD:     m.PnLUSD,
		PnLPct:     m.PnLPct,
		OrderID:    m.OrderID,
		DecisionID: m.DecisionID,
		Closed:     m.Status == TradeStatusClosed,
	}
	if m.ClosedAtUnix > 0 {
		trade.ClosedAt = time.Unix(m.ClosedAtUnix, 0)
	}
	if len(m.VotesJSON) > 0 {
		_ = json.Unmarshal(m.VotesJSON, &trade.Votes)
	}
	return trade
}
