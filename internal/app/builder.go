package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/config"
	cfgloader "quorum/internal/config/loader"
	"quorum/internal/engine"
	"quorum/internal/gateway/binance"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/provider"
	"quorum/internal/judge"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/monitor"
	"quorum/internal/persona"
	"quorum/internal/regime"
	"quorum/internal/risk"
	"quorum/internal/server"
	"quorum/internal/store/decisionlog"
	"quorum/internal/tracker"
)

// AppBuilder 把配置翻译成可运行的依赖图。
// sourceFn / gatewayFn 留作注入点，测试用假行情或纸面网关替换真实实现。
type AppBuilder struct {
	cfg *config.Config

	sourceFn  func(*config.Config) (market.Source, error)
	gatewayFn func(*config.Config, market.Source) (exchange.Gateway, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		sourceFn:  buildSource,
		gatewayFn: buildGateway,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithSource 覆盖行情源构建，测试用。
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(*config.Config) (market.Source, error) { return src, nil }
	}
}

// WithGateway 覆盖执行网关构建，测试用。
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(*config.Config, market.Source) (exchange.Gateway, error) { return gw, nil }
	}
}

func buildSource(cfg *config.Config) (market.Source, error) {
	return binance.New(binance.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		ProxyURL:    cfg.Market.ProxyURL,
		HTTPTimeout: time.Duration(cfg.Market.HTTPTimeoutSec) * time.Second,
	})
}

func buildGateway(cfg *config.Config, source market.Source) (exchange.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Exchange.Mode)) {
	case "live":
		key, secret := cfg.Exchange.ResolveCredentials()
		if key == "" || secret == "" {
			return nil, fmt.Errorf("live mode requires exchange credentials (config or QUORUM_EXCHANGE_KEY/SECRET)")
		}
		return exchange.NewBinanceGateway(key, secret, cfg.Market.RESTBaseURL)
	case "", "paper":
		logger.Infof("执行模式 paper，权益 %.2f USDT", cfg.Exchange.PaperEquity)
		return exchange.NewPaperGateway(source, cfg.Exchange.PaperEquity), nil
	default:
		return nil, fmt.Errorf("unknown exchange mode %q", cfg.Exchange.Mode)
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	source, err := b.sourceFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("build market source: %w", err)
	}
	gw, err := b.gatewayFn(cfg, source)
	if err != nil {
		return nil, fmt.Errorf("build exchange gateway: %w", err)
	}

	fearGreed := market.NewFearGreedService()
	detector := regime.NewDetector(cfg.Regime, source, fearGreed, cfg.Market.ReferenceSymbol, cfg.Market.AltBasket)

	personas := buildPersonas(cfg, fearGreed)

	var profiles judge.ProfileSource
	if path := strings.TrimSpace(cfg.Judge.ProfilesPath); path != "" {
		pl, err := cfgloader.NewProfileLoader(path)
		if err != nil {
			logger.Warnf("人格权重文件加载失败，使用内置缺省权重: %v", err)
		} else {
			profiles = pl
		}
	}

	table := risk.NewTable(cfg.Tiers)
	riskMgr := risk.NewManager(cfg.Risk, table)

	tr, err := tracker.New(cfg.Store.TradeDBPath)
	if err != nil {
		return nil, fmt.Errorf("open trade ledger: %w", err)
	}
	declog, err := decisionlog.Open(cfg.Store.DecisionLogPath)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	eng := engine.New(*cfg, source, gw, fearGreed, detector, personas,
		judge.New(cfg.Judge, profiles), riskMgr, tr, declog)

	mon := monitor.New(gw, tr, detector, fearGreed, cfg.Risk, table,
		closeHandler(tr, declog, table))

	srv := server.New(server.Config{
		Addr:     cfg.App.HTTPAddr,
		Gateway:  gw,
		Tracker:  tr,
		Detector: detector,
		Logs:     declog,
	})

	return &App{
		cfg:     cfg,
		engine:  eng,
		monitor: mon,
		server:  srv,
		tracker: tr,
		declog:  declog,
	}, nil
}

func buildPersonas(cfg *config.Config, fearGreed *market.FearGreedService) []persona.Persona {
	wc := cfg.Providers.Whale
	var whaleFeed *market.WhaleFeed
	if strings.TrimSpace(wc.APIURL) != "" {
		whaleFeed = market.NewWhaleFeed(wc.APIURL, wc.ResolveKey(), wc.Wallets,
			time.Duration(wc.CacheTTLMin)*time.Minute,
			time.Duration(wc.TimeoutSec)*time.Second)
	} else {
		logger.Warnf("链上大户数据源未配置，whale 人格将持续投中性票")
	}

	cc := cfg.Providers.Community
	community := market.NewCommunityFeed(cc.APIURL, cc.ResolveKey(),
		time.Duration(cc.TimeoutSec)*time.Second)

	pc := cfg.Providers.Commentary
	commentary := &provider.CommentaryClient{
		BaseURL: pc.APIURL,
		APIKey:  pc.ResolveKey(),
		Model:   pc.Model,
		Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
	}
	if !commentary.Enabled() {
		logger.Warnf("行情点评服务未配置，sentiment 人格降级为恐慌指数模式")
	}

	return []persona.Persona{
		persona.NewWhale(whaleFeed, community),
		persona.NewSentiment(commentary, fearGreed,
			time.Duration(pc.CacheTTLMin)*time.Minute,
			time.Duration(pc.RetryDelaySec)*time.Second),
		persona.NewFlow(),
		persona.NewTechnical(),
	}
}

// closeHandler 在仓位平掉后把结果挂回裁决留痕，亏损单顺手写冷却。
func closeHandler(tr *tracker.Tracker, declog *decisionlog.Store, table *risk.Table) func(monitor.CloseEvent) {
	return func(evt monitor.CloseEvent) {
		held := time.Since(evt.Trade.OpenedAt).Hours()
		if evt.Trade.DecisionID > 0 && declog != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := declog.InsertOutcome(ctx, decisionlog.OutcomeRecord{
				DecisionID: evt.Trade.DecisionID,
				Symbol:     evt.Trade.Symbol,
				ExitReason: evt.Reason,
				PnLUSD:     evt.PnLUSD,
				PnLPct:     evt.PnLPct,
				HeldHours:  held,
			})
			if err != nil {
				logger.Warnf("平仓结果回写失败 %s: %v", evt.Trade.Symbol, err)
			}
		}
		if evt.PnLUSD >= 0 {
			return
		}
		tier, err := table.TierFor(evt.Trade.Symbol)
		if err != nil || tier.CooldownHours <= 0 {
			return
		}
		until := time.Now().Add(time.Duration(tier.CooldownHours * float64(time.Hour)))
		if err := tr.SetCooldown(evt.Trade.Symbol, until, evt.Reason); err != nil {
			logger.Warnf("冷却写入失败 %s: %v", evt.Trade.Symbol, err)
		}
	}
}
