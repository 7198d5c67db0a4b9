// Package redispool implements the shared port pool on Redis so that
// clients on different hosts (or separate cron invocations on one host)
// never hand out the same port twice.
//
// Each resource class is one hash: field = port, value = owner (the run ID
// that claimed it). Claiming is a single Lua script, so it is atomic with
// respect to every other client using the same prefix.
package redispool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the pool.
const DefaultPrefix = "client-runner:"

// claimScript picks up to ARGV[1] unclaimed ports in [ARGV[2], ARGV[3]] and
// marks them owned by ARGV[4]. Nothing is written unless all are found.
var claimScript = backend.NewScript(`
local key = KEYS[1]
local count = tonumber(ARGV[1])
local first = tonumber(ARGV[2])
local last = tonumber(ARGV[3])
local owner = ARGV[4]
local picked = {}
for p = first, last do
	if #picked >= count then
		break
	end
	if redis.call("HEXISTS", key, tostring(p)) == 0 then
		table.insert(picked, p)
	end
end
if #picked < count then
	return redis.error_reply("pool exhausted: " .. #picked .. " of " .. count .. " port(s) free in range " .. first .. "-" .. last)
end
for _, p in ipairs(picked) do
	redis.call("HSET", key, tostring(p), owner)
end
return picked
`)

// ErrInvalidRange is returned by New when the configured range is empty.
var ErrInvalidRange = errors.New("invalid port range")

// Pool implements port.Pool on Redis.
type Pool struct {
	client     *backend.Client
	prefix     string
	owner      string
	rangeStart int
	rangeEnd   int
}

type Option func(*Pool)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(p *Pool) {
		p.prefix = prefix
	}
}

// WithOwner sets the value stored against claimed ports. Defaults to a
// random UUID; the lifecycle passes its run ID.
func WithOwner(owner string) Option {
	return func(p *Pool) {
		p.owner = owner
	}
}

// New creates a Pool with its own client.
func New(address, password string, db, rangeStart, rangeEnd int, opts ...Option) (*Pool, error) {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, rangeStart, rangeEnd, opts...)
}

// NewFromClient creates a Pool from an existing client.
func NewFromClient(client *backend.Client, rangeStart, rangeEnd int, opts ...Option) (*Pool, error) {
	if rangeStart < 1 || rangeEnd > 65535 || rangeStart > rangeEnd {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, rangeStart, rangeEnd)
	}

	pool := &Pool{
		client:     client,
		prefix:     DefaultPrefix,
		owner:      uuid.NewString(),
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool, nil
}

func (p *Pool) key(resourceClass string) string {
	return p.prefix + "ports:" + resourceClass
}

// Owner returns the value written against ports this pool claims.
func (p *Pool) Owner() string {
	return p.owner
}

// Ping checks connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Pool) Close() error {
	return p.client.Close()
}

// RequestFreePorts atomically claims count ports of the resource class.
func (p *Pool) RequestFreePorts(ctx context.Context, count int, resourceClass string) ([]int, error) {
	if count <= 0 {
		return nil, nil
	}

	vals, err := claimScript.Run(ctx, p.client,
		[]string{p.key(resourceClass)},
		count, p.rangeStart, p.rangeEnd, p.owner,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis claim ports: %w", err)
	}

	ports := make([]int, 0, len(vals))
	for _, v := range vals {
		ports = append(ports, int(v))
	}
	return ports, nil
}

// ReleasePorts deletes the claims for ports. A port whose claim was
// already gone is reported as not freed.
func (p *Pool) ReleasePorts(ctx context.Context, ports []int, resourceClass string) ([]int, error) {
	if len(ports) == 0 {
		return nil, nil
	}

	key := p.key(resourceClass)
	cmds := make([]*backend.IntCmd, len(ports))
	_, err := p.client.Pipelined(ctx, func(pipe backend.Pipeliner) error {
		for i, port := range ports {
			cmds[i] = pipe.HDel(ctx, key, strconv.Itoa(port))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis release ports: %w", err)
	}

	var notFreed []int
	for i, cmd := range cmds {
		if cmd.Val() != 1 {
			notFreed = append(notFreed, ports[i])
		}
	}
	return notFreed, nil
}

// Claim is one used port as recorded in the pool.
type Claim struct {
	Port  int    `json:"port"`
	Owner string `json:"owner"`
}

// List returns the claims of the resource class, sorted by port.
func (p *Pool) List(ctx context.Context, resourceClass string) ([]Claim, error) {
	entries, err := p.client.HGetAll(ctx, p.key(resourceClass)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list ports: %w", err)
	}

	claims := make([]Claim, 0, len(entries))
	for field, owner := range entries {
		port, convErr := strconv.Atoi(field)
		if convErr != nil {
			continue
		}
		claims = append(claims, Claim{Port: port, Owner: owner})
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Port < claims[j].Port })
	return claims, nil
}
