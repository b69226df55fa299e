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

// Package stream carries event envelopes over Redis Streams. Events are spread over a
// fixed number of partition streams by hashing the partition key, so all events of one
// case land on the same stream in publish order.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/redis/go-redis/v9"

	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
)

const envelopeField = "envelope"

// Partitioner maps partition keys to stream names.
type Partitioner struct {
	Prefix     string
	Partitions int
}

func (p Partitioner) StreamFor(partitionKey string) string {
	return fmt.Sprintf("%s:%d", p.Prefix, p.index(partitionKey))
}

// Streams lists every partition stream.
func (p Partitioner) Streams() []string {
	n := p.Partitions
	if n <= 0 {
		n = 1
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s:%d", p.Prefix, i)
	}
	return out
}

func (p Partitioner) index(key string) uint32 {
	if p.Partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(p.Partitions)
}

// Publisher appends envelopes to their partition stream.
type Publisher struct {
	client      redis.UniversalClient
	partitioner Partitioner
	maxLen      int64
}

func NewPublisher(client redis.UniversalClient, partitioner Partitioner) *Publisher {
	return &Publisher{client: client, partitioner: partitioner}
}

// WithMaxLen trims each stream approximately to n entries on append.
func (p *Publisher) WithMaxLen(n int64) *Publisher {
	p.maxLen = n
	return p
}

// Publish returns the stream entry id assigned by Redis, which serves as the acknowledgment.
func (p *Publisher) Publish(ctx context.Context, env model.Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", gateway.MarkPermanent(fmt.Errorf("encoding envelope %s: %w", env.EventID, err))
	}
	args := &redis.XAddArgs{
		Stream: p.partitioner.StreamFor(env.PartitionKey),
		Values: map[string]interface{}{envelopeField: string(data)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", gateway.MarkTransient(fmt.Errorf("xadd %s: %w", args.Stream, err))
	}
	return id, nil
}

func decodeMessage(msg redis.XMessage) (model.Envelope, error) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		return model.Envelope{}, fmt.Errorf("stream entry %s has no envelope", msg.ID)
	}
	var env model.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return model.Envelope{}, fmt.Errorf("decoding stream entry %s: %w", msg.ID, err)
	}
	return env, nil
}
