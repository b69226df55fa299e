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

package stream

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/blnkfinance/onboarding/internal/lock"
	"github.com/blnkfinance/onboarding/model"
)

// Handler processes one envelope. Returning nil acknowledges the entry. An error leaves it
// pending and holds back the rest of its partition until a retry succeeds.
type Handler func(ctx context.Context, env model.Envelope) error

type ConsumerConfig struct {
	Group     string
	Name      string
	Streams   []string
	Block     time.Duration
	Count     int64
	ClaimIdle time.Duration
	// OwnerTTL enables partition ownership: a stream is only read by the group member
	// holding its lease. Zero lets every member read every stream.
	OwnerTTL  time.Duration
}

// Consumer reads partition streams as a member of a consumer group. Entries of one
// partition are handled strictly in stream order.
type Consumer struct {
	client  redis.UniversalClient
	cfg     ConsumerConfig
	handler Handler
	leases  map[string]*redlock.Lease
	owned   map[string]bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Count <= 0 {
		cfg.Count = 50
	}
	leases := make(map[string]*redlock.Lease, len(cfg.Streams))
	for _, s := range cfg.Streams {
		leases[s] = redlock.NewLease(client, OwnerKey(s, cfg.Group), cfg.Name)
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		leases:  leases,
		owned:   make(map[string]bool, len(cfg.Streams)),
		stopCh:  make(chan struct{}),
	}
}

// OwnerKey is the lease key naming the group member that owns a partition stream.
func OwnerKey(stream, group string) string {
	return stream + ":owner:" + group
}

// EnsureGroups creates the consumer group on every stream, creating streams as needed.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, s := range c.cfg.Streams {
		err := c.client.XGroupCreateMkStream(ctx, s, c.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if err := c.EnsureGroups(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()

	logrus.WithFields(logrus.Fields{"group": c.cfg.Group, "consumer": c.cfg.Name}).Info("stream consumer started")
	return nil
}

func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.releaseOwnership(context.Background())
	logrus.WithField("group", c.cfg.Group).Info("stream consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		res, err := c.poll(ctx)
		if err != nil && ctx.Err() == nil {
			logrus.WithError(err).WithField("group", c.cfg.Group).Error("stream poll failed")
		}
		if err == nil && res.again {
			continue
		}
		select {
		case <-time.After(time.Second):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

type pollResult struct {
	acked int
	// again is set when the next poll may start at once: the group read already blocked or
	// a partition still has pending entries to drain.
	again bool
}

// Poll drains pending entries of every owned partition in stream order and then reads new
// ones from the partitions that are not held back by a failed entry. It returns the number
// of entries acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	res, err := c.poll(ctx)
	return res.acked, err
}

func (c *Consumer) poll(ctx context.Context) (pollResult, error) {
	var res pollResult
	ready := make([]string, 0, len(c.cfg.Streams))
	for _, s := range c.cfg.Streams {
		if !c.owns(ctx, s) {
			continue
		}
		pending, more, err := c.pending(ctx, s)
		if err != nil {
			return res, err
		}
		acked, settled := c.handle(ctx, s, pending)
		res.acked += acked
		if settled && !more {
			ready = append(ready, s)
		}
		if settled && more {
			res.again = true
		}
	}
	if len(ready) == 0 {
		return res, nil
	}

	streams := make([]string, 0, 2*len(ready))
	streams = append(streams, ready...)
	for range ready {
		streams = append(streams, ">")
	}
	read, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  streams,
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if c.cfg.Block >= 0 {
		res.again = true
	}
	if errors.Is(err, redis.Nil) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	for _, s := range read {
		acked, _ := c.handle(ctx, s.Stream, s.Messages)
		res.acked += acked
	}
	return res, nil
}

// owns renews or takes the partition lease. Without an OwnerTTL every member owns every stream.
func (c *Consumer) owns(ctx context.Context, stream string) bool {
	if c.cfg.OwnerTTL <= 0 {
		return true
	}
	lease := c.leases[stream]
	if err := lease.Renew(ctx, c.cfg.OwnerTTL); err == nil {
		c.owned[stream] = true
		return true
	}
	ok, err := lease.TryAcquire(ctx, c.cfg.OwnerTTL)
	if err != nil {
		logrus.WithError(err).WithField("stream", stream).Warn("partition ownership check failed")
	}
	if c.owned[stream] && !ok {
		logrus.WithFields(logrus.Fields{"group": c.cfg.Group, "stream": stream}).Warn("partition ownership lost")
	}
	c.owned[stream] = ok
	return ok
}

func (c *Consumer) releaseOwnership(ctx context.Context) {
	for s, held := range c.owned {
		if !held {
			continue
		}
		if err := c.leases[s].Release(ctx); err != nil && !errors.Is(err, redlock.ErrNotHeld) {
			logrus.WithError(err).WithField("stream", s).Warn("failed to release partition")
		}
		c.owned[s] = false
	}
}

// pending returns the partition's unacknowledged entries in stream order: this member's own
// plus those claimed from other members. An owner claims every pending entry since nobody
// else reads the partition; otherwise only entries idle past ClaimIdle are taken.
// more reports that further pending entries remain beyond the returned page.
func (c *Consumer) pending(ctx context.Context, stream string) (msgs []redis.XMessage, more bool, err error) {
	own, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{stream, "0"},
		Count:    c.cfg.Count,
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	seen := make(map[string]bool)
	limit := ""
	for _, s := range own {
		for _, m := range s.Messages {
			seen[m.ID] = true
			msgs = append(msgs, m)
		}
		limit = lowerLimit(limit, s.Messages, c.cfg.Count)
	}

	minIdle := c.cfg.ClaimIdle
	if c.cfg.OwnerTTL > 0 {
		minIdle = 0
	}
	if c.cfg.OwnerTTL > 0 || c.cfg.ClaimIdle > 0 {
		claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			MinIdle:  minIdle,
			Start:    "0-0",
			Count:    c.cfg.Count,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, false, err
		}
		for _, m := range claimed {
			if !seen[m.ID] {
				seen[m.ID] = true
				msgs = append(msgs, m)
			}
		}
		limit = lowerLimit(limit, claimed, c.cfg.Count)
	}

	sort.Slice(msgs, func(i, j int) bool { return entryIDLess(msgs[i].ID, msgs[j].ID) })
	if limit != "" {
		// A full page may hide older entries of the other source; stop where both are complete.
		n := sort.Search(len(msgs), func(i int) bool { return entryIDLess(limit, msgs[i].ID) })
		msgs = msgs[:n]
	}
	return msgs, limit != "", nil
}

// lowerLimit tightens limit to the last ID of a page that came back full.
func lowerLimit(limit string, page []redis.XMessage, count int64) string {
	if int64(len(page)) < count || len(page) == 0 {
		return limit
	}
	last := page[len(page)-1].ID
	if limit == "" || entryIDLess(last, limit) {
		return last
	}
	return limit
}

// handle processes entries in order and stops at the first handler failure. settled reports
// whether every entry was dealt with.
func (c *Consumer) handle(ctx context.Context, stream string, msgs []redis.XMessage) (acked int, settled bool) {
	for _, msg := range msgs {
		env, err := decodeMessage(msg)
		if err != nil {
			// Entries that cannot be decoded will never succeed; acknowledge and drop them.
			logrus.WithError(err).WithField("stream", stream).Error("dropping undecodable stream entry")
			c.ack(ctx, stream, msg.ID)
			continue
		}
		if err := c.handler(ctx, env); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"group":      c.cfg.Group,
				"stream":     stream,
				"event_id":   env.EventID.String(),
				"event_type": env.EventType,
			}).Warn("event handler failed, partition held until it succeeds")
			return acked, false
		}
		if c.ack(ctx, stream, msg.ID) {
			acked++
		}
	}
	return acked, true
}

func (c *Consumer) ack(ctx context.Context, stream, id string) bool {
	if err := c.client.XAck(ctx, stream, c.cfg.Group, id).Err(); err != nil {
		logrus.WithError(err).WithField("stream", stream).Error("failed to ack stream entry")
		return false
	}
	return true
}

// entryIDLess orders stream entry IDs of the form <millis>-<seq>.
func entryIDLess(a, b string) bool {
	am, as := splitEntryID(a)
	bm, bs := splitEntryID(b)
	if am != bm {
		return am < bm
	}
	return as < bs
}

func splitEntryID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}
