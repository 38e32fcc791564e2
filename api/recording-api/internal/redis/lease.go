// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_redis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/recorder/pkg/commons"
)

const (
	// Uses hash tag {recording:group} so every lease key lands on the same
	// Redis Cluster slot
	groupLeasePrefix = "{recording:group}:lease:"

	DefaultLeaseTTL = 2 * time.Minute
)

// releaseLuaScript deletes the lease only when this owner still holds it.
var releaseLuaScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// refreshLuaScript extends the lease only when this owner still holds it.
var refreshLuaScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// GroupLease keeps the one-session-per-group rule across recorder instances.
// A lease expires unless refreshed, so a crashed instance frees its groups.
type GroupLease struct {
	client     *redis.Client
	logger     commons.Logger
	ttl        time.Duration
	instanceID string
}

func NewGroupLease(client *redis.Client, logger commons.Logger, ttl time.Duration) *GroupLease {
	hostname, _ := os.Hostname()
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &GroupLease{
		client:     client,
		logger:     logger,
		ttl:        ttl,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// TTL is how long a lease lives without a refresh.
func (l *GroupLease) TTL() time.Duration { return l.ttl }

func leaseKey(groupID string) string { return groupLeasePrefix + groupID }

func (l *GroupLease) owner(sessionID string) string {
	return l.instanceID + ":" + sessionID
}

// Acquire reports whether the lease was taken for sessionID.
func (l *GroupLease) Acquire(ctx context.Context, groupID, sessionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(groupID), l.owner(sessionID), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire group lease: %w", err)
	}
	if !ok {
		l.logger.Warnw("group lease held elsewhere", "group", groupID)
	}
	return ok, nil
}

// Refresh extends a lease this instance holds for sessionID.
func (l *GroupLease) Refresh(ctx context.Context, groupID, sessionID string) error {
	res, err := refreshLuaScript.Run(ctx, l.client, []string{leaseKey(groupID)}, l.owner(sessionID), l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh group lease: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("group lease for %s lost", groupID)
	}
	return nil
}

// Release frees the lease if sessionID still owns it.
func (l *GroupLease) Release(ctx context.Context, groupID, sessionID string) error {
	if _, err := releaseLuaScript.Run(ctx, l.client, []string{leaseKey(groupID)}, l.owner(sessionID)).Result(); err != nil {
		return fmt.Errorf("failed to release group lease: %w", err)
	}
	return nil
}
