// Package redis implements the credential store on Redis. Tokens and leases
// are written with a PX expiry so Redis evicts them on its own; stack records
// are versioned hashes updated through compare-and-set scripts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// KEYS[1] = stack hash, KEYS[2] = stack id set
// ARGV[1] = stack id, ARGV[2] = data
var createStackScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "version", 1)
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] = stack hash
// ARGV[1] = expected version, ARGV[2] = data
// Returns 1 on success, 0 on version mismatch, -1 when the stack is missing.
var updateStackScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], "version")
if not v then
	return -1
end
if tonumber(v) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "version", tonumber(ARGV[1]) + 1)
return 1
`)

// KEYS[1] = stack hash, KEYS[2] = stack id set
// ARGV[1] = stack id
var deleteStackScript = redis.NewScript(`
local n = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return n
`)

// KEYS[1] = lease key
// ARGV[1] = lease id, ARGV[2] = new lease JSON, ARGV[3] = ttl in ms
// Returns 1 on success, -1 when the key is missing, -2 on owner mismatch.
var renewLeaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
	return -1
end
local lease = cjson.decode(val)
if lease.lease_id ~= ARGV[1] then
	return -2
end
redis.call("SET", KEYS[1], ARGV[2], "PX", tonumber(ARGV[3]))
return 1
`)

// KEYS[1] = lease key
// ARGV[1] = lease id
var releaseLeaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
	return 0
end
local lease = cjson.decode(val)
if lease.lease_id == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements storage.Storage on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "eam"
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) stackKey(id string) string { return s.prefix + ":stack:" + id }
func (s *Store) stackSetKey() string       { return s.prefix + ":stacks" }
func (s *Store) tokenKey(id string) string { return s.prefix + ":token:" + id }
func (s *Store) leaseKey(id string) string { return s.prefix + ":lease:" + id }
func (s *Store) rootKey() string           { return s.prefix + ":root" }

// ttlUntil returns the PX expiry for a record that lives until deadline.
func ttlUntil(deadline, now time.Time) time.Duration {
	ttl := deadline.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

// ============================================
// Stacks
// ============================================

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	stack.Version = 1
	data, err := domain.EncodeStack(stack)
	if err != nil {
		return err
	}
	res, err := createStackScript.Run(ctx, s.client,
		[]string{s.stackKey(stack.ID), s.stackSetKey()}, stack.ID, data).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	vals, err := s.client.HMGet(ctx, s.stackKey(id), "data", "version").Result()
	if err != nil {
		return nil, err
	}
	return decodeStackHash(id, vals)
}

func decodeStackHash(id string, vals []any) (*domain.Stack, error) {
	data, ok := vals[0].(string)
	if !ok {
		return nil, domain.ErrNotFound
	}
	stack, err := domain.DecodeStack([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decoding stack %s: %w", id, err)
	}
	if v, ok := vals[1].(string); ok {
		fmt.Sscan(v, &stack.Version)
	}
	return stack, nil
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	ids, err := s.client.SMembers(ctx, s.stackSetKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, s.stackKey(id), "data", "version")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stacks := make([]*domain.Stack, 0, len(ids))
	for i, id := range ids {
		stack, err := decodeStackHash(id, cmds[i].Val())
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, nil
}

func (s *Store) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	expected := stack.Version
	stack.Version = expected + 1
	data, err := domain.EncodeStack(stack)
	if err != nil {
		stack.Version = expected
		return err
	}
	res, err := updateStackScript.Run(ctx, s.client, []string{s.stackKey(stack.ID)}, expected, data).Int()
	if err != nil {
		stack.Version = expected
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		stack.Version = expected
		return domain.ErrNotFound
	default:
		stack.Version = expected
		return domain.ErrConflict
	}
}

func (s *Store) DeleteStack(ctx context.Context, id string) error {
	n, err := deleteStackScript.Run(ctx, s.client,
		[]string{s.stackKey(id), s.stackSetKey()}, id).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// Tokens
// ============================================

func (s *Store) CreateToken(ctx context.Context, token *domain.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.tokenKey(token.ID), data, ttlUntil(token.ExpiresAt, time.Now())).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	data, err := s.client.Get(ctx, s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var token domain.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &token, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.tokenKey(id)).Err()
}

// ============================================
// Root credential
// ============================================

func (s *Store) GetRootCredential(ctx context.Context) (*domain.RootCredential, error) {
	data, err := s.client.Get(ctx, s.rootKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cred domain.RootCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decoding root credential: %w", err)
	}
	return &cred, nil
}

func (s *Store) InitRootCredential(ctx context.Context, cred *domain.RootCredential) (bool, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.rootKey(), data, 0).Result()
}

func (s *Store) PutRootCredential(ctx context.Context, cred *domain.RootCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.rootKey(), data, 0).Err()
}

// ============================================
// Leases
// ============================================

// AcquireLease uses SET NX PX; an expired lease has already been evicted by
// Redis, so now only bounds the expiry.
func (s *Store) AcquireLease(ctx context.Context, lease *domain.Lease, now time.Time) (bool, error) {
	data, err := json.Marshal(lease)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.leaseKey(lease.StackID), data, ttlUntil(lease.Deadline, now)).Result()
}

func (s *Store) RenewLease(ctx context.Context, stackID, leaseID string, deadline, now time.Time) (bool, error) {
	current, err := s.GetLease(ctx, stackID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.LeaseID != leaseID {
		return false, nil
	}
	current.Deadline = deadline
	data, err := json.Marshal(current)
	if err != nil {
		return false, err
	}
	res, err := renewLeaseScript.Run(ctx, s.client, []string{s.leaseKey(stackID)},
		leaseID, data, ttlUntil(deadline, now).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *Store) ReleaseLease(ctx context.Context, stackID, leaseID string) error {
	return releaseLeaseScript.Run(ctx, s.client, []string{s.leaseKey(stackID)}, leaseID).Err()
}

func (s *Store) GetLease(ctx context.Context, stackID string) (*domain.Lease, error) {
	data, err := s.client.Get(ctx, s.leaseKey(stackID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var lease domain.Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("decoding lease: %w", err)
	}
	return &lease, nil
}

func (s *Store) DeleteLease(ctx context.Context, stackID string) error {
	return s.client.Del(ctx, s.leaseKey(stackID)).Err()
}

// PurgeExpired is a no-op: Redis evicts expired keys itself.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
