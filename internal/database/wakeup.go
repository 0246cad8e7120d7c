package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/emergent-company/goldzone/pkg/logger"
	"github.com/emergent-company/goldzone/pkg/pgutils"
)

// Pinger is anything that can check database liveness, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// WakeUp pings db until it answers, waiting a fixed interval between at most
// attempts tries. Serverless databases resume on the first connection and
// refuse queries until they are up. Server errors that a retry cannot fix
// stop the retries immediately.
func WakeUp(ctx context.Context, db Pinger, attempts int, wait time.Duration, log *slog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	try := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		try++
		log.Info("waking up database", slog.Int("attempt", try))
		err := db.PingContext(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if pgutils.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn("database not ready", slog.Int("attempt", try), logger.Error(err))
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(wait)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return fmt.Errorf("database wake-up after %d attempt(s): %w", try, err)
	}
	return nil
}
