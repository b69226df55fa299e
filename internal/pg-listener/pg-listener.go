package pg_listener

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// WakeFunc is called for every notification. payload is empty after a reconnect,
// when notifications may have been missed.
type WakeFunc func(payload string)

type ListenerConfig struct {
	PgConnStr string
	Channel   string
	// Interval is how often the connection is pinged when no notification arrives.
	Interval time.Duration
	Timeout  time.Duration
}

type DBListener struct {
	config ListenerConfig
	wake   WakeFunc
}

func NewDBListener(config ListenerConfig, wake WakeFunc) *DBListener {
	if config.Interval <= 0 {
		config.Interval = 90 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	return &DBListener{config: config, wake: wake}
}

// Start listens until ctx is cancelled.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, 10*time.Second, d.config.Timeout, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("channel", d.config.Channel).Warn("postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return err
	}
	logrus.WithField("channel", d.config.Channel).Info("listening for postgres notifications")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			d.handleNotification(n)
		case <-time.After(d.config.Interval):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("postgres listener ping failed")
			}
		}
	}
}

// handleNotification receives nil from pq after the connection was re-established.
func (d *DBListener) handleNotification(n *pq.Notification) {
	if n == nil {
		d.wake("")
		return
	}
	d.wake(n.Extra)
}
