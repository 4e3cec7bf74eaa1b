package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WeightTable 是一组人格权重，按人格名索引。
type WeightTable map[string]float64

// ProfileDefinition 描述一套裁决权重配置。
// with_trend / counter_trend 必须互为镜像语义：顺势与逆势只看方向与当前
// regime 的关系，不看多空本身，避免方向性偏置。
type ProfileDefinition struct {
	Name         string      `mapstructure:"-"`
	WithTrend    WeightTable `mapstructure:"with_trend"`
	CounterTrend WeightTable `mapstructure:"counter_trend"`
	Neutral      WeightTable `mapstructure:"neutral"`
	Default      bool        `mapstructure:"default"`
}

// FileConfig 是 personas.yaml 的完整结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `mapstructure:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Active 返回标记为 default 的 profile，退而取第一个。
func (s ProfileSnapshot) Active() (ProfileDefinition, bool) {
	var first ProfileDefinition
	got := false
	for _, def := range s.Profiles {
		if def.Default {
			return def, true
		}
		if !got {
			first = def
			got = true
		}
	}
	return first, got
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 从 YAML 加载人格权重 profile，并监听热更新。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read persona profiles failed: %w", err)
	}
	l := &ProfileLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("persona profile reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot 返回当前快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go deliver(fn, snap)
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn != nil {
			go deliver(fn, snap)
		}
	}
}

func deliver(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("persona profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse persona profiles failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition, len(fileCfg.Profiles))
	for name, def := range fileCfg.Profiles {
		def.Name = name
		def.WithTrend = normalizeTable(def.WithTrend)
		def.CounterTrend = normalizeTable(def.CounterTrend)
		def.Neutral = normalizeTable(def.Neutral)
		if err := checkTables(name, def); err != nil {
			return err
		}
		normalized[name] = def
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("persona profiles reloaded: %d from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeTable(t WeightTable) WeightTable {
	if len(t) == 0 {
		return nil
	}
	out := make(WeightTable, len(t))
	for name, w := range t {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || w < 0 {
			continue
		}
		out[key] = w
	}
	return out
}

func checkTables(name string, def ProfileDefinition) error {
	for label, t := range map[string]WeightTable{
		"with_trend":    def.WithTrend,
		"counter_trend": def.CounterTrend,
		"neutral":       def.Neutral,
	} {
		if len(t) == 0 {
			return fmt.Errorf("profile %s: %s weights missing", name, label)
		}
	}
	return nil
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		copyDef := def
		copyDef.WithTrend = cloneTable(def.WithTrend)
		copyDef.CounterTrend = cloneTable(def.CounterTrend)
		copyDef.Neutral = cloneTable(def.Neutral)
		dst.Profiles[name] = copyDef
	}
	return dst
}

func cloneTable(t WeightTable) WeightTable {
	if len(t) == 0 {
		return nil
	}
	out := make(WeightTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
