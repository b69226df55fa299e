/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redlock provides a Redis lease that lets exactly one instance run a periodic job.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	renewScript   = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// ErrNotHeld is returned when renewing or releasing a lease owned by someone else or already expired.
var ErrNotHeld = errors.New("lease not held")

// Lease is a named, expiring lock held by one owner.
type Lease struct {
	client redis.UniversalClient
	key    string
	owner  string
}

func NewLease(client redis.UniversalClient, key, owner string) *Lease {
	return &Lease{client: client, key: key, owner: owner}
}

func (l *Lease) Key() string { return l.key }

// TryAcquire takes the lease for ttl. It reports false without error when another owner holds it.
func (l *Lease) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *Lease) Renew(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.owner, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("renewing %s: %w", l.key, ErrNotHeld)
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("releasing %s: %w", l.key, ErrNotHeld)
	}
	return nil
}
