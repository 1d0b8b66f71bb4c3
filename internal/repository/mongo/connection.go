package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/payments-capture/internal/infrastructure/config"
	"github.com/cassiomorais/payments-capture/pkg/retry"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// errBadURI marks client construction failures, which retrying cannot fix.
var errBadURI = errors.New("invalid mongo client options")

// Connect opens a client and waits for the primary to answer a ping,
// retrying with backoff up to cfg.ConnectRetries times.
func Connect(ctx context.Context, cfg *config.MongoConfig, logger zerolog.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("payments-capture").
		SetServerSelectionTimeout(5 * time.Second)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = max(cfg.ConnectRetries, 1)
	retryCfg.RetryIf = func(err error) bool { return !errors.Is(err, errBadURI) }
	retryCfg.OnRetry = func(n uint, err error) {
		logger.Warn().Err(err).Uint("attempt", n+1).Str("database", cfg.Database).Msg("mongo not ready, retrying")
	}

	client, err := retry.DoWithResult(ctx, retryCfg, func() (*mongo.Client, error) {
		return dial(ctx, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return client, nil
}

func dial(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadURI, err)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadURI, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Disconnect closes the client within a bounded time.
func Disconnect(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}
