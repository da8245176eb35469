package weapp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"weappnotify/internal/notifier"
	"weappnotify/internal/transport"
	"weappnotify/pkg/httpclient"
)

// Subscribe-message error codes that retrying cannot fix.
var permanentCodes = map[int]string{
	40003: "invalid openid",
	40037: "invalid template id",
	43101: "user refused to accept the message",
	47003: "template data invalid",
	41030: "invalid page",
}

// Codes that are worth retrying after a pause.
var throttledCodes = map[int]string{
	-1:    "system busy",
	45009: "api call limit reached",
}

// Relay posts template messages to a gateway that holds the channel credentials
// and forwards them to the subscribe-message API. The gateway answers with the
// channel's {errcode, errmsg} envelope.
//
// A circuit breaker opens after repeated transport failures (network, 5xx,
// throttling) so a dead gateway fails fast instead of burning retries.
// Per-message rejections do not count against it.
type Relay struct {
	client  *httpclient.Client
	path    string
	breaker *gobreaker.CircuitBreaker
}

// breakerOpenFor is how long the breaker stays open before probing again.
const breakerOpenFor = 30 * time.Second

// RelayResponse is the channel's response envelope.
type RelayResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewRelay targets endpoint (full URL incl. path). token, if set, is sent as a bearer token.
func NewRelay(endpoint, token string, timeout time.Duration) (*Relay, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", endpoint)
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	base := u.Scheme + "://" + u.Host
	c := httpclient.New(base, timeout)
	if token != "" {
		c = c.WithBearer(token)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weapp.relay",
		Timeout: breakerOpenFor,
		IsSuccessful: func(err error) bool {
			return err == nil || notifier.IsPermanent(err)
		},
	})
	return &Relay{client: c, path: path, breaker: breaker}, nil
}

func (r *Relay) Send(ctx context.Context, msg transport.TemplateMessage) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return notifier.RetryAfter(fmt.Errorf("relay unavailable: %w", err), time.Second)
	}
	return err
}

// BreakerState is "closed", "half-open" or "open".
func (r *Relay) BreakerState() string { return r.breaker.State().String() }

func (r *Relay) send(ctx context.Context, msg transport.TemplateMessage) error {
	var resp RelayResponse
	err := r.client.PostJSON(ctx, r.path, msg, &resp)
	if err != nil {
		return classifyHTTP(err)
	}
	if resp.ErrCode == 0 {
		return nil
	}
	cerr := fmt.Errorf("errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	if _, ok := permanentCodes[resp.ErrCode]; ok {
		return notifier.Permanent(cerr)
	}
	if _, ok := throttledCodes[resp.ErrCode]; ok {
		return notifier.RetryAfter(cerr, time.Second)
	}
	return cerr
}

func classifyHTTP(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == 429:
		return notifier.RetryAfter(err, se.RetryAfter)
	case se.Code >= 400 && se.Code < 500:
		return notifier.Permanent(err)
	default:
		return err
	}
}
