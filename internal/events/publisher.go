// Package events publishes collection change events to NATS.
//
// Events are JSON encoded on subjects of the form
//
//	<prefix>.<collection>.<event type>
//
// for example docuchat.reports.document.added. Collection names never
// contain dots so a subscriber can filter with docuchat.reports.> or
// docuchat.*.collection.deleted.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
)

// DefaultSubjectPrefix is the first subject token of every event.
const DefaultSubjectPrefix = "docuchat"

// ErrInvalidConfig indicates an unusable events configuration.
var ErrInvalidConfig = errors.New("invalid events config")

// Config configures event publishing.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	SubjectPrefix string `koanf:"subject_prefix"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.ContainsAny(c.SubjectPrefix, " *>") || strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return fmt.Errorf("%w: bad subject prefix %q", ErrInvalidConfig, c.SubjectPrefix)
	}
	return nil
}

// Subject returns the subject an event is published on.
func Subject(prefix string, e collections.Event) string {
	return prefix + "." + e.Collection + "." + string(e.Type)
}

// Publisher is a collections.Notifier that publishes to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

var _ collections.Notifier = (*Publisher)(nil)

// NewPublisher publishes on an existing connection. Close does not close
// nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials cfg.URL and returns a Publisher owning the connection.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("docuchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// Notify implements collections.Notifier.
func (p *Publisher) Notify(_ context.Context, e collections.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, e)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }

// Close flushes pending events and closes the connection if the
// Publisher opened it.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Flush()
	if p.owned {
		p.nc.Close()
	}
	return err
}

// Subscribe delivers the events of collection, or of every collection
// when collection is empty, until the returned subscription is drained.
func Subscribe(nc *nats.Conn, prefix, collection string, fn func(collections.Event)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	subject := prefix + ".>"
	if collection != "" {
		subject = prefix + "." + collection + ".>"
	}
	return nc.Subscribe(subject, func(m *nats.Msg) {
		var e collections.Event
		if err := json.Unmarshal(m.Data, &e); err != nil {
			return
		}
		fn(e)
	})
}
