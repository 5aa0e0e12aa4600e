// Package oracle fetches the current BTC/USD exchange rate from several
// independent public sources and caches the result for a short TTL.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNoPricesAvailable is returned when every configured source failed.
var ErrNoPricesAvailable = errors.New("oracle: no price sources available")

const (
	fetchTimeout = 5 * time.Second
	cacheTTL     = 5 * time.Minute
)

// source fetches a single USD-per-BTC quote.
type source struct {
	name  string
	fetch func(ctx context.Context, client *http.Client) (float64, error)
}

// Oracle fetches and caches the median BTC/USD price across its sources.
type Oracle struct {
	sources []source
	client  *http.Client
	logger  *log.Logger

	mu        sync.Mutex
	cachedAt  time.Time
	cachedVal float64
}

// New builds an Oracle wired to the reference source set: Coinbase spot,
// Kraken ticker, and Binance ticker.
func New(logger *log.Logger) *Oracle {
	if logger == nil {
		logger = log.Default()
	}
	return &Oracle{
		sources: []source{
			{name: "coinbase", fetch: fetchCoinbase},
			{name: "kraken", fetch: fetchKraken},
			{name: "binance", fetch: fetchBinance},
		},
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger,
	}
}

// Source is an exported alias of the internal source type, letting
// callers outside this package (chiefly tests) pass their own quote
// sources to NewWithSources instead of depending on live upstreams. Its
// fields are unexported, so outside callers build one with FixedSource.
type Source = source

// FixedSource returns a Source that always reports price, never fails,
// and never makes a network call. Intended for tests that need a
// deterministic exchange rate.
func FixedSource(name string, price float64) Source {
	return source{
		name: name,
		fetch: func(ctx context.Context, client *http.Client) (float64, error) {
			return price, nil
		},
	}
}

// NewWithSources builds an Oracle over an arbitrary set of sources,
// bypassing the live Coinbase/Kraken/Binance wiring New uses. Intended
// for tests.
func NewWithSources(logger *log.Logger, sources ...Source) *Oracle {
	if logger == nil {
		logger = log.Default()
	}
	return &Oracle{
		sources: sources,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

// Price returns the cached USD-per-BTC price if it is within its 5-minute
// TTL, otherwise fans out to every source, computes the median of the
// successful responses, and caches it. Fails with ErrNoPricesAvailable only
// if every source failed.
func (o *Oracle) Price(ctx context.Context) (float64, error) {
	o.mu.Lock()
	if !o.cachedAt.IsZero() && time.Since(o.cachedAt) < cacheTTL {
		price := o.cachedVal
		o.mu.Unlock()
		return price, nil
	}
	o.mu.Unlock()

	price, err := o.fetchMedian(ctx)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.cachedVal = price
	o.cachedAt = time.Now()
	o.mu.Unlock()

	return price, nil
}

func (o *Oracle) fetchMedian(ctx context.Context) (float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	type outcome struct {
		price float64
		err   error
		name  string
	}

	results := make(chan outcome, len(o.sources))
	var wg sync.WaitGroup
	for _, src := range o.sources {
		wg.Add(1)
		go func(s source) {
			defer wg.Done()
			price, err := s.fetch(fetchCtx, o.client)
			results <- outcome{price: price, err: err, name: s.name}
		}(src)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var values []float64
	for r := range results {
		if r.err != nil {
			o.logger.Warn("price source failed", "source", r.name, "err", r.err)
			continue
		}
		values = append(values, r.price)
	}

	if len(values) == 0 {
		return 0, ErrNoPricesAvailable
	}

	return median(values), nil
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.New("oracle: unexpected status " + resp.Status + ": " + string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
