// Package sessionpool owns the primary and secondary pools of authenticated,
// proxied HTTP session bundles, and the shared TokenPool. All pool state is
// serialized behind a single mutex; the critical sections are short relative
// to the network I/O they guard.
package sessionpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quanku-art/tile-harvester/internal/metrics"
	"github.com/quanku-art/tile-harvester/internal/model"
	"github.com/quanku-art/tile-harvester/internal/proxypool"
	"github.com/quanku-art/tile-harvester/internal/retry"
	"github.com/quanku-art/tile-harvester/internal/session"
)

const maxSecondarySize = 200

// Pool owns the primary and secondary session bundle pools.
type Pool struct {
	mu sync.Mutex

	n        int
	useProxy bool
	proxies  *proxypool.Provider

	primary   []*session.Bundle
	secondary []*session.Bundle

	secondaryCounter uint64 // accessed atomically; post-incremented

	tokens *TokenPool
	mirror *redisMirror
}

// New constructs a Pool sized for n concurrent artist workers. When
// useProxy is false, every bundle is a direct connection.
func New(ctx context.Context, n int, useProxy bool, proxies *proxypool.Provider, redisClient *redis.Client, runID string) (*Pool, error) {
	p := &Pool{
		n:        n,
		useProxy: useProxy,
		proxies:  proxies,
		tokens:   NewTokenPool(retry.TokenPoolCapacity(n)),
		mirror:   newRedisMirror(redisClient, runID),
	}
	p.mirror.seed(p.tokens)

	if err := p.rebuildPrimaryLocked(ctx); err != nil {
		return nil, err
	}
	if err := p.refreshSecondaryAllLocked(ctx, false); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) secondarySize() int {
	size := p.n * 3
	if size > maxSecondarySize {
		size = maxSecondarySize
	}
	if size < 1 {
		size = 1
	}
	return size
}

// GetPrimary returns the primary bundle for artist index i, rebuilding the
// entire primary pool from scratch whenever i is a pool-boundary (i mod N
// == 0).
func (p *Pool) GetPrimary(ctx context.Context, i int) (*session.Bundle, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.n > 0 && i%p.n == 0 {
		if err := p.rebuildPrimaryLocked(ctx); err != nil {
			return nil, 0, err
		}
		p.warmTokenPoolLocked(ctx)
	}
	if len(p.primary) == 0 {
		return nil, 0, fmt.Errorf("primary pool is empty")
	}
	// A rebuild tolerates partially-failed proxy batches, so the pool can
	// momentarily hold fewer than N bundles.
	idx := i % max(p.n, 1) % len(p.primary)
	return p.primary[idx], idx, nil
}

// NextSecondary returns the next secondary bundle, round-robined via a
// monotone post-incremented counter.
func (p *Pool) NextSecondary() (*session.Bundle, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := uint64(len(p.secondary))
	if n == 0 {
		return nil, 0
	}
	idx := int(atomic.AddUint64(&p.secondaryCounter, 1)-1) % int(n)
	return p.secondary[idx], idx
}

// ReplacePrimary allocates a new proxy and bundle, installing it at index.
func (p *Pool) ReplacePrimary(ctx context.Context, index int, forceNewToken bool) (*session.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reuseToken := ""
	if !forceNewToken && len(p.primary) > 0 {
		reuseToken = p.primary[0].TourToken
	}
	b, err := p.acquireBundleLocked(ctx, reuseToken)
	if err != nil {
		return nil, err
	}
	p.primary[index] = b
	metrics.ProxyRotations.Inc()
	return b, nil
}

// ReplaceSecondary allocates a new proxy and bundle, installing it at index.
func (p *Pool) ReplaceSecondary(ctx context.Context, index int, forceNewToken bool) (*session.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reuseToken := ""
	if !forceNewToken && len(p.primary) > 0 {
		reuseToken = p.primary[0].TourToken
	}
	b, err := p.acquireBundleLocked(ctx, reuseToken)
	if err != nil {
		return nil, err
	}
	p.secondary[index] = b
	metrics.ProxyRotations.Inc()
	return b, nil
}

// Replace dispatches to ReplacePrimary or ReplaceSecondary by kind.
func (p *Pool) Replace(ctx context.Context, kind model.PoolKind, index int, forceNewToken bool) (*session.Bundle, error) {
	if kind == model.Primary {
		return p.ReplacePrimary(ctx, index, forceNewToken)
	}
	return p.ReplaceSecondary(ctx, index, forceNewToken)
}

// RotateToken discards oldToken from the TokenPool, obtains a replacement
// (popped from TokenPool unless forceNew or the pool is empty, else minted
// fresh through the bundle's own session), writes it into the pool slot,
// and opportunistically replenishes the TokenPool.
func (p *Pool) RotateToken(ctx context.Context, kind model.PoolKind, index int, forceNew bool, oldToken string) (*session.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokens.Discard(oldToken)

	var slot *[]*session.Bundle
	if kind == model.Primary {
		slot = &p.primary
	} else {
		slot = &p.secondary
	}
	if index < 0 || index >= len(*slot) {
		return nil, fmt.Errorf("rotate token: index %d out of range for %s pool", index, kind)
	}
	bundle := (*slot)[index]

	newToken, fromPool := "", false
	if !forceNew {
		newToken, fromPool = p.tokens.Pop()
	}
	if newToken == "" {
		minted, err := mintToken(ctx, bundle)
		if err != nil {
			return nil, err
		}
		newToken = minted
	}

	bundle.TourToken = newToken
	metrics.TokenRotations.Inc()
	if !fromPool {
		p.mirror.push(newToken)
	}
	p.replenishTokenPoolLocked(ctx, bundle)
	return bundle, nil
}

// RefreshSecondaryAll rebuilds the entire secondary pool, sharing the
// primary pool's current token unless forceNewToken.
func (p *Pool) RefreshSecondaryAll(ctx context.Context, forceNewToken bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshSecondaryAllLocked(ctx, forceNewToken)
}

func (p *Pool) refreshSecondaryAllLocked(ctx context.Context, forceNewToken bool) error {
	size := p.secondarySize()
	reuseToken := ""
	if !forceNewToken && len(p.primary) > 0 {
		reuseToken = p.primary[0].TourToken
	}
	bundles := make([]*session.Bundle, 0, size)
	for len(bundles) < size {
		b, err := p.acquireBundleLocked(ctx, reuseToken)
		if err != nil {
			if len(bundles) > 0 {
				break
			}
			return err
		}
		bundles = append(bundles, b)
	}
	p.secondary = bundles
	atomic.StoreUint64(&p.secondaryCounter, 0)
	return nil
}

func (p *Pool) rebuildPrimaryLocked(ctx context.Context) error {
	bundles := make([]*session.Bundle, 0, max(p.n, 1))
	for len(bundles) < max(p.n, 1) {
		b, err := p.acquireBundleLocked(ctx, "")
		if err != nil {
			if len(bundles) > 0 {
				break
			}
			return err
		}
		bundles = append(bundles, b)
	}
	p.primary = bundles
	return nil
}

// acquireBundleLocked retries up to retry.MaxProxyRetries times, allocating
// a fresh proxy batch each attempt, skipping proxies whose bundle creation
// raises a proxy-auth error and log-and-skipping any other failure. It must
// be called with p.mu held.
func (p *Pool) acquireBundleLocked(ctx context.Context, reuseToken string) (*session.Bundle, error) {
	if !p.useProxy {
		return session.Create(ctx, "", reuseToken)
	}

	var lastErr error
	for attempt := 0; attempt < retry.MaxProxyRetries; attempt++ {
		proxies, err := p.proxies.Allocate(ctx, p.n)
		if err != nil {
			lastErr = err
			time.Sleep(retry.ProxyRotationSleep)
			continue
		}
		for _, proxy := range proxies {
			b, err := session.Create(ctx, proxy, reuseToken)
			if err != nil {
				if retry.IsProxyAuthShaped(err) {
					continue
				}
				slog.Warn("skipping proxy after unexpected error", "proxy", proxy, "err", err)
				continue
			}
			return b, nil
		}
		lastErr = fmt.Errorf("no working bundle among %d allocated proxies", len(proxies))
		time.Sleep(retry.ProxyRotationSleep)
	}
	return nil, &retry.FatalProxyError{Attempts: retry.MaxProxyRetries, Cause: lastErr}
}

func mintToken(ctx context.Context, bundle *session.Bundle) (string, error) {
	minted, err := session.Create(ctx, bundle.Proxy, "")
	if err != nil {
		return "", err
	}
	return minted.TourToken, nil
}

// warmTokenPoolLocked mints tokens through primary[0] until the TokenPool
// is at capacity or three full capacities of attempts have been made,
// tolerating rate-limit failures with backoff.
func (p *Pool) warmTokenPoolLocked(ctx context.Context) {
	if len(p.primary) == 0 {
		return
	}
	capAttempts := p.tokens.Capacity() * 3
	for attempt := 0; attempt < capAttempts && p.tokens.Len() < p.tokens.Capacity(); attempt++ {
		token, err := mintToken(ctx, p.primary[0])
		if err != nil {
			if retry.IsRateLimitShaped(err) {
				time.Sleep(retry.CatalogDelays[0])
				continue
			}
			slog.Warn("token pool warm-up mint failed", "err", err)
			continue
		}
		p.tokens.Push(token)
		p.mirror.push(token)
	}
}

func (p *Pool) replenishTokenPoolLocked(ctx context.Context, bundle *session.Bundle) {
	if p.tokens.Len() >= p.tokens.Capacity() {
		return
	}
	token, err := mintToken(ctx, bundle)
	if err != nil {
		return
	}
	p.tokens.Push(token)
	p.mirror.push(token)
}

// Tokens exposes the TokenPool for inspection (tests, status reporting).
func (p *Pool) Tokens() *TokenPool { return p.tokens }

// UseProxy reports whether this pool allocates bundles through a proxy
// vendor, as opposed to direct connections.
func (p *Pool) UseProxy() bool { return p.useProxy }
