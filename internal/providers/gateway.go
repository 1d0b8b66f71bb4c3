package providers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// GatewayConfig bounds each provider call and tunes the per-provider breaker.
type GatewayConfig struct {
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

type client struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker[*CaptureResult]
}

// Gateway routes captures to registered providers. Each call is made once,
// under a timeout and the provider's circuit breaker, then classified.
type Gateway struct {
	cfg       GatewayConfig
	telemetry observability.Telemetry
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewGateway(cfg GatewayConfig, telemetry observability.Telemetry, logger zerolog.Logger, providers ...Provider) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	g := &Gateway{
		cfg:       cfg,
		telemetry: telemetry,
		logger:    logger,
		clients:   make(map[string]*client),
	}
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

// Register adds p with a fresh circuit breaker, replacing any provider with
// the same name.
func (g *Gateway) Register(p Provider) {
	threshold := g.cfg.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker[*CaptureResult](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     g.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// declines and permanent errors say nothing about provider health
		IsSuccessful: func(err error) bool {
			kind, _ := Classify(err)
			return kind != OutcomeRetryableError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit breaker state changed")
		},
	})

	g.mu.Lock()
	g.clients[p.Name()] = &client{provider: p, breaker: breaker}
	g.mu.Unlock()
}

// BreakerState reports the breaker state of a registered provider.
func (g *Gateway) BreakerState(name string) (gobreaker.State, error) {
	c, err := g.client(name)
	if err != nil {
		return gobreaker.StateClosed, err
	}
	return c.breaker.State(), nil
}

func (g *Gateway) client(name string) (*client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return c, nil
}

// Capture performs exactly one capture call. It never returns an error: every
// failure is folded into the Outcome.
func (g *Gateway) Capture(ctx context.Context, req CaptureRequest) Outcome {
	start := time.Now()

	c, err := g.client(req.Provider)
	if err != nil {
		out := Outcome{Kind: OutcomePermanentError, Reason: err.Error()}
		g.emit(req, out, time.Since(start))
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	res, err := c.breaker.Execute(func() (*CaptureResult, error) {
		return c.provider.Capture(callCtx, req)
	})
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		// a failure after the deadline says nothing certain; the capture may
		// still have happened. A late success is kept.
		err = fmt.Errorf("capture %s: %w: %w", req.IntentID, domainErrors.ErrProviderTimeout, callCtx.Err())
	}

	out := outcomeOf(res, err)
	elapsed := time.Since(start)
	g.emit(req, out, elapsed)

	g.logger.Debug().
		Str("intent_id", req.IntentID.String()).
		Str("provider", req.Provider).
		Str("outcome", string(out.Kind)).
		Int("status_code", out.StatusCode).
		Dur("latency", elapsed).
		Msg("provider capture finished")
	return out
}

func outcomeOf(res *CaptureResult, err error) Outcome {
	kind, code := Classify(err)
	if err != nil {
		return Outcome{Kind: kind, StatusCode: code, Reason: err.Error()}
	}
	if res == nil || res.TransactionID == "" {
		return Outcome{Kind: OutcomePermanentError, StatusCode: code, Reason: "provider returned no transaction id"}
	}
	if res.StatusCode != 0 {
		code = res.StatusCode
	}
	return Outcome{Kind: OutcomeSucceeded, ProviderTxID: res.TransactionID, StatusCode: code}
}

func (g *Gateway) emit(req CaptureRequest, out Outcome, d time.Duration) {
	g.telemetry.Timing(observability.MetricProviderLatency, d, map[string]string{
		"provider_name":  req.Provider,
		"country":        req.Country,
		"resource":       "payment_intent",
		"action":         "capture",
		"status_code":    strconv.Itoa(out.StatusCode),
		"request_status": out.Kind.RequestStatus(),
	})
}
