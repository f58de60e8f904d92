package sessionpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTTL bounds how long a mirrored token is considered worth reusing
// across a coordinator restart; tour tokens rotate often enough that a
// stale mirror is simply a wasted reuse attempt, not a correctness issue.
const redisTTL = 10 * time.Minute

// redisMirror write-behind persists spare tokens to Redis so a restarted
// coordinator can seed its TokenPool without a full remint round-trip. It
// is entirely optional: a nil client (or any Redis error) degrades to
// silent no-ops, never blocking or failing the hot path.
type redisMirror struct {
	client *redis.Client
	key    string
}

func newRedisMirror(client *redis.Client, runKey string) *redisMirror {
	return &redisMirror{client: client, key: "harvest:tokenpool:" + runKey}
}

func (m *redisMirror) push(token string) {
	if m == nil || m.client == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.LPush(ctx, m.key, token).Err(); err != nil {
		slog.Warn("token pool redis mirror push failed", "err", err)
		return
	}
	m.client.Expire(ctx, m.key, redisTTL)
}

func (m *redisMirror) pop() (string, bool) {
	if m == nil || m.client == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	token, err := m.client.LPop(ctx, m.key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("token pool redis mirror pop failed", "err", err)
		}
		return "", false
	}
	return token, token != ""
}

// seed preloads the in-memory TokenPool from any tokens left over from a
// prior, killed run. Best-effort; errors are logged and ignored.
func (m *redisMirror) seed(pool *TokenPool) {
	if m == nil || m.client == nil {
		return
	}
	for pool.Len() < pool.Capacity() {
		token, ok := m.pop()
		if !ok {
			return
		}
		pool.Push(token)
	}
}
