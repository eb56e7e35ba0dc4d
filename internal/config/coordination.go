package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Coordination holds the constants shared by the request ledger and the
// staff-side worker: how long a request stays valid, how many requests a
// store may raise per month, and the worker timer intervals.
type Coordination struct {
	ValidityWindow     time.Duration
	MonthlyQuotaByKind map[string]int
	// StoreQuotaOverrides maps store id -> kind -> quota and wins over
	// MonthlyQuotaByKind for that store.
	StoreQuotaOverrides map[string]map[string]int
	HeartbeatInterval   time.Duration
	PollInterval        time.Duration
	KeepaliveInterval   time.Duration
}

// Quota returns the monthly quota for (storeID, kind). Unknown kinds have a
// quota of zero, which disables them.
func (c Coordination) Quota(storeID, kind string) int {
	kind = strings.ToLower(kind)
	if per, ok := c.StoreQuotaOverrides[storeID]; ok {
		if n, ok := per[kind]; ok {
			return n
		}
	}
	return c.MonthlyQuotaByKind[kind]
}

// Validate checks the invariants the ledger and worker rely on.
func (c Coordination) Validate() error {
	if c.ValidityWindow <= 0 {
		return errors.New("validity window must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.PollInterval <= 0 || c.KeepaliveInterval <= 0 {
		return errors.New("heartbeat, poll and keepalive intervals must be > 0")
	}
	for k, n := range c.MonthlyQuotaByKind {
		if n < 0 {
			return fmt.Errorf("quota for %q must be >= 0", k)
		}
	}
	for store, per := range c.StoreQuotaOverrides {
		for k, n := range per {
			if n < 0 {
				return fmt.Errorf("quota override %s/%s must be >= 0", store, k)
			}
		}
	}
	return nil
}

// String renders the coordination settings for startup logs.
func (c Coordination) String() string {
	return fmt.Sprintf("validity=%s quotas=[%s] overrides=%d heartbeat=%s poll=%s keepalive=%s",
		c.ValidityWindow, formatQuotaList(c.MonthlyQuotaByKind), len(c.StoreQuotaOverrides),
		c.HeartbeatInterval, c.PollInterval, c.KeepaliveInterval)
}

// coordinationFile is the on-disk YAML shape. Keys are millisecond based so
// the same file can be shared with non-Go tooling.
type coordinationFile struct {
	ValidityWindowMs    *int64                    `yaml:"validityWindowMs"`
	MonthlyQuotaByKind  map[string]int            `yaml:"monthlyQuotaByKind"`
	StoreQuotaOverrides map[string]map[string]int `yaml:"storeQuotaOverrides"`
	HeartbeatIntervalMs *int64                    `yaml:"heartbeatIntervalMs"`
	PollIntervalMs      *int64                    `yaml:"pollIntervalMs"`
	KeepaliveIntervalMs *int64                    `yaml:"keepaliveIntervalMs"`
}

// ParseCoordination decodes YAML on top of base; keys absent from the
// document keep the base value. Unknown keys are rejected.
func ParseCoordination(data []byte, base Coordination) (Coordination, error) {
	var f coordinationFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("coordination: %w", err)
	}

	out := base
	ms := func(p *int64, dst *time.Duration) {
		if p != nil {
			*dst = time.Duration(*p) * time.Millisecond
		}
	}
	ms(f.ValidityWindowMs, &out.ValidityWindow)
	ms(f.HeartbeatIntervalMs, &out.HeartbeatInterval)
	ms(f.PollIntervalMs, &out.PollInterval)
	ms(f.KeepaliveIntervalMs, &out.KeepaliveInterval)
	if f.MonthlyQuotaByKind != nil {
		out.MonthlyQuotaByKind = lowerKeys(f.MonthlyQuotaByKind)
	}
	if f.StoreQuotaOverrides != nil {
		out.StoreQuotaOverrides = make(map[string]map[string]int, len(f.StoreQuotaOverrides))
		for store, per := range f.StoreQuotaOverrides {
			out.StoreQuotaOverrides[store] = lowerKeys(per)
		}
	}
	if err := out.Validate(); err != nil {
		return base, fmt.Errorf("coordination: %w", err)
	}
	return out, nil
}

// LoadCoordination reads and parses the YAML file at path on top of base.
func LoadCoordination(path string, base Coordination) (Coordination, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("coordination: %w", err)
	}
	return ParseCoordination(data, base)
}

func lowerKeys(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Live holds the current Coordination and swaps it atomically on reload.
// Readers call Current per operation so a reload applies to the next request.
type Live struct {
	v atomic.Pointer[Coordination]
}

// NewLive returns a Live seeded with c.
func NewLive(c Coordination) *Live {
	l := &Live{}
	l.Store(c)
	return l
}

// Current returns the active settings.
func (l *Live) Current() Coordination { return *l.v.Load() }

// Store replaces the active settings.
func (l *Live) Store(c Coordination) { l.v.Store(&c) }

// Watch reloads path into l whenever the file changes, until ctx ends. The
// parent directory is watched so editors that replace the file atomically
// are picked up. Invalid edits are logged and the previous settings kept.
func (l *Live) Watch(ctx context.Context, path string, lg zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				next, err := LoadCoordination(abs, l.Current())
				if err != nil {
					lg.Warn().Err(err).Str("path", abs).Msg("coordination reload rejected")
					continue
				}
				l.Store(next)
				lg.Info().Str("path", abs).Str("settings", next.String()).Msg("coordination reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				lg.Warn().Err(err).Msg("coordination watcher error")
			}
		}
	}()
	return nil
}
