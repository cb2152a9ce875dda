// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

const (
	// Hash tag {rtp:ports} keeps all allocator keys on one cluster slot.
	rtpAvailableKey    = "{rtp:ports}:available"
	rtpAllocatedPrefix = "{rtp:ports}:allocated:"
	rtpAllocatedTTL    = 10 * time.Minute
)

// PortAllocator hands out even-numbered RTP ports (RFC 3550: RTCP takes the
// next odd port).
type PortAllocator interface {
	Init(ctx context.Context) error
	Allocate() (int, error)
	Release(port int)
	ReleaseAll(ctx context.Context)
}

// NewPortAllocator picks the backend: Redis when a client is provided (so
// multiple media servers can share one range), in-process otherwise.
func NewPortAllocator(client *redis.Client, logger commons.Logger, portStart, portEnd int) PortAllocator {
	if client != nil {
		return newRedisPortAllocator(client, logger, portStart, portEnd)
	}
	return newLocalPortAllocator(logger, portStart, portEnd)
}

// ====================================================================
// Redis-backed allocator
// ====================================================================

type redisPortAllocator struct {
	client     *redis.Client
	logger     commons.Logger
	portStart  int
	portEnd    int
	instanceID string
}

func newRedisPortAllocator(client *redis.Client, logger commons.Logger, portStart, portEnd int) *redisPortAllocator {
	hostname, _ := os.Hostname()
	return &redisPortAllocator{
		client:     client,
		logger:     logger,
		portStart:  portStart,
		portEnd:    portEnd,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// initLuaScript populates the available set only when absent, so a restart
// never returns in-use ports to the pool.
var initLuaScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

func (a *redisPortAllocator) Init(ctx context.Context) error {
	start := a.portStart
	if start%2 != 0 {
		start++
	}
	ports := make([]interface{}, 0, (a.portEnd-start)/2)
	for port := start; port < a.portEnd; port += 2 {
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return fmt.Errorf("no valid RTP ports in range %d-%d", a.portStart, a.portEnd)
	}

	added, err := initLuaScript.Run(ctx, a.client, []string{rtpAvailableKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("failed to initialize RTP port pool: %w", err)
	}
	if added > 0 {
		a.logger.Info("Initialized RTP port pool", "ports", added,
			"range_start", a.portStart, "range_end", a.portEnd)
	}

	a.reclaimCrashedPorts(ctx)
	return nil
}

// allocateLuaScript pops from available and records the owner instance in
// one atomic step.
var allocateLuaScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

func (a *redisPortAllocator) Allocate() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instanceKey := rtpAllocatedPrefix + a.instanceID
	port, err := allocateLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate RTP port: %w", err)
	}
	if port == -1 {
		return 0, fmt.Errorf("no RTP ports available in range %d-%d", a.portStart, a.portEnd)
	}

	a.client.Expire(ctx, instanceKey, rtpAllocatedTTL)
	a.logger.Debugw("Allocated RTP port", "port", port, "instance", a.instanceID)
	return port, nil
}

var releaseLuaScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

func (a *redisPortAllocator) Release(port int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instanceKey := rtpAllocatedPrefix + a.instanceID
	if _, err := releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}, port).Result(); err != nil {
		a.logger.Error("Failed to release RTP port", "port", port, "error", err)
		return
	}
	a.logger.Debugw("Released RTP port", "port", port)
}

// reclaimCrashedPorts returns ports tracked under this hostname:pid from a
// previous crashed run.
func (a *redisPortAllocator) reclaimCrashedPorts(ctx context.Context) {
	instanceKey := rtpAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil || len(ports) == 0 {
		return
	}

	a.logger.Warn("Reclaiming ports from crashed instance",
		"instance", a.instanceID, "count", len(ports))
	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}, port)
	}
}

func (a *redisPortAllocator) ReleaseAll(ctx context.Context) {
	instanceKey := rtpAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		a.logger.Error("Failed to list allocated ports for release", "error", err)
		return
	}
	for _, portStr := range ports {
		if port, err := strconv.Atoi(portStr); err == nil {
			a.Release(port)
		}
	}
	a.client.Del(ctx, instanceKey)
	a.logger.Info("Released all RTP ports", "count", len(ports))
}

// ====================================================================
// Local allocator (single instance, no Redis)
// ====================================================================

type localPortAllocator struct {
	logger    commons.Logger
	portStart int
	portEnd   int

	mu        sync.Mutex
	available []int
	inUse     map[int]bool
}

func newLocalPortAllocator(logger commons.Logger, portStart, portEnd int) *localPortAllocator {
	return &localPortAllocator{
		logger:    logger,
		portStart: portStart,
		portEnd:   portEnd,
		inUse:     make(map[int]bool),
	}
}

func (a *localPortAllocator) Init(context.Context) error {
	start := a.portStart
	if start%2 != 0 {
		start++
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = a.available[:0]
	for port := start; port < a.portEnd; port += 2 {
		a.available = append(a.available, port)
	}
	if len(a.available) == 0 {
		return fmt.Errorf("no valid RTP ports in range %d-%d", a.portStart, a.portEnd)
	}
	a.logger.Info("Initialized local RTP port pool", "ports", len(a.available))
	return nil
}

func (a *localPortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.available) == 0 {
		return 0, fmt.Errorf("no RTP ports available in range %d-%d", a.portStart, a.portEnd)
	}
	port := a.available[len(a.available)-1]
	a.available = a.available[:len(a.available)-1]
	a.inUse[port] = true
	return port, nil
}

func (a *localPortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inUse[port] {
		return
	}
	delete(a.inUse, port)
	a.available = append(a.available, port)
}

func (a *localPortAllocator) ReleaseAll(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port := range a.inUse {
		a.available = append(a.available, port)
		delete(a.inUse, port)
	}
}
