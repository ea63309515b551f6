package collector

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"wplacebot/internal/models"
)

const DefaultMaxAccounts = 20

type AccountSource interface {
	List() ([]models.Account, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, token string, mode models.Mode) (models.ResolvedMetrics, error)
}

// Result is one account's outcome. Exactly one of Metrics and Err is set.
type Result struct {
	Account   models.Account
	Metrics   *models.ResolvedMetrics
	Err       error
	FetchedAt time.Time
}

func (r Result) OK() bool { return r.Err == nil && r.Metrics != nil }

type Resolver struct {
	accounts    AccountSource
	fetcher     Fetcher
	log         *slog.Logger
	now         func() time.Time
	maxAccounts int
	inFlight    int
}

func NewResolver(accounts AccountSource, fetcher Fetcher, maxAccounts int, logger *slog.Logger) *Resolver {
	if maxAccounts <= 0 {
		maxAccounts = DefaultMaxAccounts
	}
	return &Resolver{accounts: accounts, fetcher: fetcher, log: logger, now: time.Now, maxAccounts: maxAccounts}
}

// SetConcurrency caps how many fetches run at once within one call. Each fetch
// may fall back to a headless browser, so this bounds browser processes too.
// Zero or less means every selected account is fetched at once.
func (r *Resolver) SetConcurrency(n int) {
	r.inFlight = n
}

// Fetch resolves every selected account concurrently and waits for all of
// them. An empty label filter selects every account. Failures are captured in
// the results; the returned error only reports an unreadable account store.
func (r *Resolver) Fetch(ctx context.Context, labels []string) ([]Result, error) {
	all, err := r.accounts.List()
	if err != nil {
		return nil, err
	}
	targets := selectAccounts(all, labels)
	if len(targets) > r.maxAccounts {
		r.log.Warn("account cap reached", "selected", len(targets), "max", r.maxAccounts)
		targets = targets[:r.maxAccounts]
	}

	results := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if r.inFlight > 0 {
		g.SetLimit(r.inFlight)
	}
	for i, a := range targets {
		g.Go(func() error {
			m, err := r.fetcher.Fetch(gctx, a.Token, a.Mode)
			res := Result{Account: a, FetchedAt: r.now()}
			if err != nil {
				r.log.Warn("fetch account", "label", a.Label, "mode", a.Mode, "err", err)
				res.Err = err
			} else {
				res.Metrics = &m
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Resolve is Fetch followed by Dedupe.
func (r *Resolver) Resolve(ctx context.Context, labels []string) ([]Result, error) {
	results, err := r.Fetch(ctx, labels)
	if err != nil {
		return nil, err
	}
	return Dedupe(results), nil
}

// Dedupe collapses successful results that resolved to the same remote
// identity. The higher-trust credential mode wins and takes the slot of the
// first occurrence; equal trust keeps the first. Failures are always kept.
func Dedupe(results []Result) []Result {
	out := make([]Result, 0, len(results))
	slot := map[string]int{}
	for _, res := range results {
		if !res.OK() {
			out = append(out, res)
			continue
		}
		key := res.Metrics.Key()
		if key == "" {
			out = append(out, res)
			continue
		}
		i, seen := slot[key]
		if !seen {
			slot[key] = len(out)
			out = append(out, res)
			continue
		}
		if res.Account.Mode.Trust() > out[i].Account.Mode.Trust() {
			out[i] = res
		}
	}
	return out
}

func selectAccounts(all []models.Account, labels []string) []models.Account {
	if len(labels) == 0 {
		return all
	}
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	out := make([]models.Account, 0, len(labels))
	for _, a := range all {
		if want[a.Label] {
			out = append(out, a)
		}
	}
	return out
}
