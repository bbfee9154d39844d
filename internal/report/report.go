// Package report forwards request failures to Sentry when a DSN is set.
package report

import (
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

type Reporter interface {
	Capture(err error, tags map[string]string)
	Close()
}

// Nop drops every report.
type Nop struct{}

func (Nop) Capture(error, map[string]string) {}
func (Nop) Close()                           {}

type Sentry struct {
	client *raven.Client
}

// New returns a Sentry reporter for dsn, or Nop when dsn is empty.
func New(dsn string) (Reporter, error) {
	if dsn == "" {
		return Nop{}, nil
	}
	client, err := raven.New(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sentry dsn")
	}
	return &Sentry{client: client}, nil
}

func (s *Sentry) Capture(err error, tags map[string]string) {
	s.client.CaptureError(err, tags)
}

func (s *Sentry) Close() {
	s.client.Wait()
	s.client.Close()
}
