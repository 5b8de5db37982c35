package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepExpired purges every session past its expiry and returns how many were removed.
func (s *AuthSessionService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ExpiredSessionIDs(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.store.ClearSession(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *AuthSessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.log.Warn("sweep expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}
