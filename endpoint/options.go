package endpoint

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/observability"
)

const (
	// DefaultTimeout bounds each blocking socket operation.
	DefaultTimeout = 3 * time.Second
	// DefaultDialInterval is the pause between initiator dial attempts.
	DefaultDialInterval = 100 * time.Millisecond
	// DefaultDialBudget is the total time the initiator spends absorbing
	// listener startup races before reporting the peer unreachable.
	DefaultDialBudget = 2 * time.Second
)

type config struct {
	timeout        time.Duration
	negotiate      bool
	presharedKey   *seal.Key
	suite          seal.Suite
	maxFrameBytes  int
	markerWait     time.Duration
	markerInterval time.Duration
	dialInterval   time.Duration
	dialBudget     time.Duration
	clock          clock.Clock
	logger         *zap.Logger
	observer       observability.ConnObserver
}

func defaultConfig() config {
	return config{
		timeout:      DefaultTimeout,
		dialInterval: DefaultDialInterval,
		dialBudget:   DefaultDialBudget,
		clock:        clock.New(),
		logger:       zap.NewNop(),
		observer:     observability.NoopConnObserver,
	}
}

// Option configures an endpoint at open time.
type Option func(*config)

// WithTimeout sets the blocking timeout applied to each socket operation.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithNegotiation requests automatic session key negotiation. Only the
// listener's setting decides; the initiator follows the received marker.
func WithNegotiation() Option {
	return func(c *config) { c.negotiate = true }
}

// WithPresharedKey derives a symmetric key from a passphrase. A key
// negotiated during the handshake takes precedence when both are set.
func WithPresharedKey(passphrase string) Option {
	return func(c *config) {
		k := seal.KeyFromPassphrase(passphrase)
		c.presharedKey = &k
	}
}

// WithSuite selects the AEAD suite for sealed frames.
func WithSuite(s seal.Suite) Option {
	return func(c *config) { c.suite = s }
}

// WithMaxFrameBytes raises or lowers the accepted frame size bound.
func WithMaxFrameBytes(n int) Option {
	return func(c *config) { c.maxFrameBytes = n }
}

// WithMarkerWait overrides the initiator's handshake marker wait budget and
// retry interval.
func WithMarkerWait(budget, interval time.Duration) Option {
	return func(c *config) {
		c.markerWait = budget
		c.markerInterval = interval
	}
}

// WithDialRetry overrides the initiator's connect retry budget and interval.
func WithDialRetry(budget, interval time.Duration) Option {
	return func(c *config) {
		c.dialBudget = budget
		c.dialInterval = interval
	}
}

// WithClock injects a clock for the retry loops; tests use clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o observability.ConnObserver) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}
