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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLease_TryAcquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "refresh-sweep", "node-a")

	mock.ExpectSetNX("refresh-sweep", "node-a", 5*time.Second).SetVal(true)
	ok, err := lease.TryAcquire(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("refresh-sweep", "node-a", 5*time.Second).SetVal(false)
	ok, err = lease.TryAcquire(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.False(t, ok, "held by another owner")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_TryAcquireError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "refresh-sweep", "node-a")

	mock.ExpectSetNX("refresh-sweep", "node-a", time.Second).SetErr(errors.New("connection refused"))
	_, err := lease.TryAcquire(context.Background(), time.Second)
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "refresh-sweep", "node-a")

	mock.ExpectEval(releaseScript, []string{"refresh-sweep"}, "node-a").SetVal(int64(1))
	assert.NoError(t, lease.Release(context.Background()))

	mock.ExpectEval(releaseScript, []string{"refresh-sweep"}, "node-a").SetVal(int64(0))
	err := lease.Release(context.Background())
	assert.ErrorIs(t, err, ErrNotHeld)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_Renew(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "refresh-sweep", "node-a")

	mock.ExpectEval(renewScript, []string{"refresh-sweep"}, "node-a", "10000").SetVal(int64(1))
	assert.NoError(t, lease.Renew(context.Background(), 10*time.Second))

	mock.ExpectEval(renewScript, []string{"refresh-sweep"}, "node-a", "10000").SetVal(int64(0))
	assert.ErrorIs(t, lease.Renew(context.Background(), 10*time.Second), ErrNotHeld)

	assert.NoError(t, mock.ExpectationsWereMet())
}
