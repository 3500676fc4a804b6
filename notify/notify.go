// Package notify publishes finished WorkflowResults to NATS so downstream
// systems (ticketing, dashboards) can react to maintenance outcomes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/trace"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "factorymesh.runs"

// Publisher is the subset of *nats.Conn the Notifier needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Options configure a Notifier.
type Options struct {
	// Subject is the prefix; results go to "<Subject>.<status>".
	Subject string
	Logger  logging.Logger
}

// Notifier publishes each result it receives. It satisfies
// engine.ResultSink.
type Notifier struct {
	pub     Publisher
	subject string
	logger  logging.Logger
	close   func()
}

// New wraps an existing publisher.
func New(pub Publisher, optFns ...func(o *Options)) *Notifier {
	opts := Options{Subject: DefaultSubject}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	return &Notifier{pub: pub, subject: opts.Subject, logger: logging.Ensure(opts.Logger)}
}

// Connect dials the NATS server at url and returns a Notifier owning the
// connection.
func Connect(url string, optFns ...func(o *Options)) (*Notifier, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("factorymesh"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	n := New(nc, optFns...)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return n, nil
}

// Subject returns the subject a result with the given status is published on.
func (n *Notifier) Subject(status trace.RunStatus) string {
	return n.subject + "." + string(status)
}

// HandleResult publishes the serialised result.
func (n *Notifier) HandleResult(_ context.Context, res *trace.WorkflowResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	subj := n.Subject(res.Status)
	if err := n.pub.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	n.logger.Debug("notify.published", "subject", subj, "run_id", res.RunID)
	return nil
}

// Close drains the owned connection, if any.
func (n *Notifier) Close() {
	if n.close != nil {
		n.close()
	}
}
