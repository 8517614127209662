package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"twstock-screener/internal/markethours"
	"twstock-screener/internal/model"
)

// ErrBlacklisted is returned for symbols that previously produced no data.
var ErrBlacklisted = errors.New("marketdata: symbol blacklisted")

// Loader resolves a symbol's daily series through the cache and the
// configured sources, recording symbols nothing can serve.
type Loader struct {
	cache   model.BarCache
	kv      model.KVStore
	sources []BarSource
	now     func() time.Time
}

// NewLoader builds a Loader. Sources are tried in order; nil entries are
// ignored.
func NewLoader(cache model.BarCache, kv model.KVStore, sources ...BarSource) *Loader {
	l := &Loader{cache: cache, kv: kv, now: time.Now}
	for _, s := range sources {
		if s != nil {
			l.sources = append(l.sources, s)
		}
	}
	return l
}

// Load returns bars for symbol with Date in [start, end].
//
// Cached bars are served as they are when they already reach end (or the
// last closed session, whichever is earlier). Otherwise only the missing
// tail is fetched, merged and written back. A symbol with neither cached
// nor fetched bars is blacklisted.
func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time) (model.Series, error) {
	start, end = model.Day(start), model.Day(end)

	black, err := l.kv.SIsMember(ctx, model.KeyBlacklist, symbol)
	if err != nil {
		log.Printf("[loader] blacklist lookup %s: %v", symbol, err)
	}
	if black {
		return model.Series{Symbol: symbol}, ErrBlacklisted
	}

	cached, err := l.cache.ReadBars(ctx, symbol, start)
	if err != nil {
		log.Printf("[loader] cache read %s: %v", symbol, err)
		cached = nil
	}

	fetchFrom := start
	if n := len(cached); n > 0 {
		last := cached[n-1].Date
		if !last.Before(l.target(end)) {
			return l.window(symbol, cached, nil, end), nil
		}
		fetchFrom = last.AddDate(0, 0, 1)
	}

	fresh, src := l.fetch(ctx, symbol, fetchFrom, end)
	if ctx.Err() != nil {
		return model.Series{Symbol: symbol}, ctx.Err()
	}
	if len(fresh) > 0 {
		if err := l.cache.UpsertBars(ctx, symbol, fresh); err != nil {
			log.Printf("[loader] cache write %s: %v", symbol, err)
		}
		log.Printf("[loader] %s: %d bars from %s", symbol, len(fresh), src)
	}

	s := l.window(symbol, cached, fresh, end)
	if s.Len() == 0 {
		if err := l.kv.SAdd(ctx, model.KeyBlacklist, symbol); err != nil {
			log.Printf("[loader] blacklist %s: %v", symbol, err)
		}
		return s, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	return s, nil
}

// target is the latest date the cache can be expected to hold.
func (l *Loader) target(end time.Time) time.Time {
	if last := markethours.LastTradingDay(l.now()); last.Before(end) {
		return last
	}
	return end
}

func (l *Loader) fetch(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, string) {
	for _, src := range l.sources {
		bars, err := src.FetchBars(ctx, symbol, from, to)
		if err == nil && len(bars) > 0 {
			return bars, src.Name()
		}
		if ctx.Err() != nil {
			return nil, ""
		}
		if err != nil && !errors.Is(err, ErrNoData) {
			log.Printf("[loader] %s via %s: %v", symbol, src.Name(), err)
		}
	}
	return nil, ""
}

func (l *Loader) window(symbol string, cached, fresh []model.Bar, end time.Time) model.Series {
	merged := make([]model.Bar, 0, len(cached)+len(fresh))
	merged = append(merged, cached...)
	merged = append(merged, fresh...)
	s := model.NewSeries(symbol, merged)
	n := len(s.Bars)
	for n > 0 && s.Bars[n-1].Date.After(end) {
		n--
	}
	s.Bars = s.Bars[:n]
	return s
}
