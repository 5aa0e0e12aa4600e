package orchestrator

import (
	"context"
	"time"

	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

// Rate limit policy, named per endpoint so the constants double as
// documentation of §5's table. GenerateAddress and CheckPayment are
// keyed per session and are the only limiters any entry point takes from.
// The Oracle.Price and CheckoutSession limiters are allocated by
// newLimiters but no code in this module takes from them (no entry point
// exposes Oracle.Price to clients, and the Stripe/PayPal adapters
// CheckoutSession would protect are out of this module's scope); they are
// kept as named constants — see SPEC_FULL.md §5 — to document the policy,
// with globalLimiterKey as the key they would use.
const (
	generateAddressTokens   = 1
	generateAddressInterval = 300 * time.Second

	checkPaymentTokens   = 1
	checkPaymentInterval = 10 * time.Second

	oraclePriceTokens   = 1
	oraclePriceInterval = 30 * time.Second

	checkoutSessionTokens   = 5
	checkoutSessionInterval = 300 * time.Second
)

const globalLimiterKey = "global"

// limiters bundles the named memorystore-backed rate limiters the
// orchestrator enforces. Each is a fixed-window limiter (observationally
// identical to a token bucket when Tokens=1, since at most one token can
// be taken per window either way).
type limiters struct {
	generateAddress limiter.Store
	checkPayment    limiter.Store
	oraclePrice     limiter.Store
	checkoutSession limiter.Store
}

func newLimiters() (*limiters, error) {
	generateAddress, err := memorystore.New(&memorystore.Config{
		Tokens:   generateAddressTokens,
		Interval: generateAddressInterval,
	})
	if err != nil {
		return nil, err
	}
	checkPayment, err := memorystore.New(&memorystore.Config{
		Tokens:   checkPaymentTokens,
		Interval: checkPaymentInterval,
	})
	if err != nil {
		return nil, err
	}
	oraclePrice, err := memorystore.New(&memorystore.Config{
		Tokens:   oraclePriceTokens,
		Interval: oraclePriceInterval,
	})
	if err != nil {
		return nil, err
	}
	checkoutSession, err := memorystore.New(&memorystore.Config{
		Tokens:   checkoutSessionTokens,
		Interval: checkoutSessionInterval,
	})
	if err != nil {
		return nil, err
	}

	return &limiters{
		generateAddress: generateAddress,
		checkPayment:    checkPayment,
		oraclePrice:     oraclePrice,
		checkoutSession: checkoutSession,
	}, nil
}

// take consumes one token from store under key, returning ok=false when
// the caller has exceeded the configured rate.
func take(ctx context.Context, store limiter.Store, key string) (ok bool, err error) {
	_, _, _, ok, err = store.Take(ctx, key)
	return ok, err
}
