package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out short human-readable codes for proposals. The
// snowflake id stays the primary key; codes are for operators.
type Generator interface {
	NextProposalCode(ctx context.Context, kind string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextProposalCode(ctx context.Context, kind string) (string, error) {
	return g.nextDailyCode(ctx, prefixFor(kind))
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := fmt.Sprintf("seq:%s:%s", prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := now.Truncate(24 * time.Hour).Add(24*time.Hour - time.Second).Sub(now)
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	return format(prefix, today, seq), nil
}

// MemoryGenerator is the single-process counterpart of RedisGenerator.
type MemoryGenerator struct {
	mu   sync.Mutex
	seqs map[string]int64
	now  func() time.Time
}

func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{seqs: make(map[string]int64), now: time.Now}
}

func (g *MemoryGenerator) NextProposalCode(_ context.Context, kind string) (string, error) {
	prefix := prefixFor(kind)
	today := g.now().UTC().Format("060102")

	g.mu.Lock()
	key := prefix + ":" + today
	g.seqs[key]++
	seq := g.seqs[key]
	g.mu.Unlock()

	return format(prefix, today, seq), nil
}

var prefixes = map[string]string{
	"use":       "USE",
	"claim":     "CLM",
	"issue":     "ISS",
	"revoke":    "RVK",
	"define":    "DEF",
	"mint":      "MNT",
	"open-pool": "OPN",
}

func prefixFor(kind string) string {
	if p, ok := prefixes[kind]; ok {
		return p
	}
	return "PRP"
}

func format(prefix, day string, seq int64) string {
	// base36, at least three characters
	encodedSeq := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encodedSeq) < 3 {
		encodedSeq = strings.Repeat("0", 3-len(encodedSeq)) + encodedSeq
	}
	randSuffix, _ := randomAlphaNumeric(2)
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encodedSeq, randSuffix)
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
