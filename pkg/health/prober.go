// Package health implements liveness probes for managed services.
//
// A probe only answers "is a process accepting connections at this
// endpoint". Any HTTP response counts as alive, whatever its status.
package health

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 2 * time.Second

type Prober interface {
	Probe(ctx context.Context, endpoint string) bool
}

type ProberFunc func(ctx context.Context, endpoint string) bool

func (f ProberFunc) Probe(ctx context.Context, endpoint string) bool { return f(ctx, endpoint) }

type HTTPProber struct {
	client  *resty.Client
	timeout time.Duration
}

var _ Prober = (*HTTPProber)(nil)

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.NoRedirectPolicy())
	client.SetLogger(nopLogger{})
	return &HTTPProber{client: client, timeout: timeout}
}

// Probe never fails: transport errors and malformed endpoints report false.
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		log.Debug().Str("endpoint", endpoint).Msg("probe: invalid endpoint")
		return false
	}

	if strings.EqualFold(u.Scheme, "tcp") {
		return p.probeTCP(ctx, u.Host)
	}

	resp, err := p.client.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		// resty still hands back the response when only the redirect was refused.
		if resp != nil && resp.RawResponse != nil {
			return true
		}
		log.Debug().Str("endpoint", endpoint).Err(err).Msg("probe: no response")
		return false
	}
	log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode()).Msg("probe: alive")
	return true
}

func (p *HTTPProber) probeTCP(ctx context.Context, address string) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}
