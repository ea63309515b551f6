package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wplacebot/internal/models"
)

type staticAccounts []models.Account

func (s staticAccounts) List() ([]models.Account, error) { return s, nil }

type fetchFunc func(ctx context.Context, token string, mode models.Mode) (models.ResolvedMetrics, error)

func (f fetchFunc) Fetch(ctx context.Context, token string, mode models.Mode) (models.ResolvedMetrics, error) {
	return f(ctx, token, mode)
}

func byToken(m map[string]models.ResolvedMetrics) fetchFunc {
	return func(_ context.Context, token string, _ models.Mode) (models.ResolvedMetrics, error) {
		if r, ok := m[token]; ok {
			return r, nil
		}
		return models.ResolvedMetrics{}, fmt.Errorf("HTTP 401 for %s", token)
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFetchCollectsAllOutcomes(t *testing.T) {
	accounts := staticAccounts{
		{Label: "a", Token: "ta", Mode: models.ModeCookie},
		{Label: "b", Token: "bad", Mode: models.ModeBearer},
		{Label: "c", Token: "tc", Mode: models.ModeBearer},
	}
	r := NewResolver(accounts, byToken(map[string]models.ResolvedMetrics{
		"ta": {Identity: "1", DisplayName: "A"},
		"tc": {Identity: "3", DisplayName: "C"},
	}), 0, discard())

	results, err := r.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}
	if !results[0].OK() || results[1].OK() || !results[2].OK() {
		t.Fatalf("unexpected outcomes: %+v", results)
	}
	if results[1].Err == nil || results[1].Account.Label != "b" {
		t.Fatalf("failure not captured in order: %+v", results[1])
	}
}

func TestFetchFiltersLabelsAndCaps(t *testing.T) {
	var accounts staticAccounts
	for i := 0; i < 30; i++ {
		accounts = append(accounts, models.Account{Label: fmt.Sprintf("l%d", i), Token: fmt.Sprintf("t%d", i), Mode: models.ModeCookie})
	}
	ok := fetchFunc(func(_ context.Context, token string, _ models.Mode) (models.ResolvedMetrics, error) {
		return models.ResolvedMetrics{Identity: token}, nil
	})
	r := NewResolver(accounts, ok, 20, discard())

	all, _ := r.Fetch(context.Background(), nil)
	if len(all) != 20 {
		t.Fatalf("capped len = %d, want 20", len(all))
	}
	some, _ := r.Fetch(context.Background(), []string{"l3", "l25", "missing"})
	if len(some) != 2 || some[0].Account.Label != "l3" || some[1].Account.Label != "l25" {
		t.Fatalf("filtered = %+v", some)
	}
}

func TestFetchRunsConcurrently(t *testing.T) {
	accounts := staticAccounts{{Label: "a", Token: "a"}, {Label: "b", Token: "b"}, {Label: "c", Token: "c"}}
	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(len(accounts))
	slow := fetchFunc(func(context.Context, string, models.Mode) (models.ResolvedMetrics, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		wg.Done()
		wg.Wait()
		inFlight.Add(-1)
		return models.ResolvedMetrics{}, errors.New("boom")
	})
	r := NewResolver(accounts, slow, 20, discard())
	done := make(chan struct{})
	go func() {
		_, _ = r.Fetch(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetches did not run concurrently")
	}
	if peak.Load() != 3 {
		t.Fatalf("peak in flight = %d, want 3", peak.Load())
	}
}

func TestDedupePrefersBearer(t *testing.T) {
	cookie := Result{Account: models.Account{Label: "c", Mode: models.ModeCookie}, Metrics: &models.ResolvedMetrics{Identity: "42", DisplayName: "x"}}
	bearer := Result{Account: models.Account{Label: "b", Mode: models.ModeBearer}, Metrics: &models.ResolvedMetrics{Identity: "42", DisplayName: "x"}}
	other := Result{Account: models.Account{Label: "o", Mode: models.ModeCookie}, Metrics: &models.ResolvedMetrics{Identity: "7"}}

	for _, in := range [][]Result{{cookie, other, bearer}, {bearer, other, cookie}} {
		out := Dedupe(in)
		if len(out) != 2 {
			t.Fatalf("len = %d, want 2", len(out))
		}
		if out[0].Account.Label != "b" || out[1].Account.Label != "o" {
			t.Fatalf("order = %s,%s want b,o", out[0].Account.Label, out[1].Account.Label)
		}
	}
}

func TestDedupeTieKeepsFirstAndKeepsFailures(t *testing.T) {
	first := Result{Account: models.Account{Label: "1", Mode: models.ModeCookie}, Metrics: &models.ResolvedMetrics{DisplayName: "same"}}
	second := Result{Account: models.Account{Label: "2", Mode: models.ModeCookie}, Metrics: &models.ResolvedMetrics{DisplayName: "same"}}
	failA := Result{Account: models.Account{Label: "f1", Mode: models.ModeBearer}, Err: errors.New("x")}
	failB := Result{Account: models.Account{Label: "f2", Mode: models.ModeBearer}, Err: errors.New("x")}

	out := Dedupe([]Result{failA, first, second, failB})
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Account.Label != "f1" || out[1].Account.Label != "1" || out[2].Account.Label != "f2" {
		t.Fatalf("unexpected dedupe: %+v", out)
	}
}

func TestFetchConcurrencyLimit(t *testing.T) {
	var accounts staticAccounts
	for i := 0; i < 6; i++ {
		accounts = append(accounts, models.Account{Label: fmt.Sprintf("l%d", i), Token: fmt.Sprintf("t%d", i), Mode: models.ModeCookie})
	}
	var running, peak atomic.Int32
	slow := fetchFunc(func(_ context.Context, token string, _ models.Mode) (models.ResolvedMetrics, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return models.ResolvedMetrics{Identity: token}, nil
	})
	r := NewResolver(accounts, slow, 0, discard())
	r.SetConcurrency(2)

	results, err := r.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("results len = %d, want 6", len(results))
	}
	for _, res := range results {
		if !res.OK() {
			t.Fatalf("unexpected failure: %+v", res)
		}
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak in-flight = %d, want at most 2", p)
	}
}
