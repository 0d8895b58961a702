package update

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/store"
)

// ErrRunInProgress is returned when another run holds the lease.
var ErrRunInProgress = eris.New("update: another run is in progress")

// errLeaseLost stops calls after another holder took the lease over.
var errLeaseLost = eris.New("update: run lease lost")

// lease is the single-run lock held in the store.
type lease struct {
	store store.Store
	token string
	ttl   time.Duration
}

// acquireLease writes token under the lease key unless a live lease exists.
// An expired lease is taken over.
func acquireLease(ctx context.Context, s store.Store, token string, ttl time.Duration) (*lease, error) {
	ok, err := s.PutIfAbsent(ctx, store.RunLeaseKey, []byte(token), ttl)
	if err != nil {
		return nil, eris.Wrap(err, "update: acquire lease")
	}
	if !ok {
		holder, _ := s.Get(ctx, store.RunLeaseKey)
		return nil, eris.Wrapf(ErrRunInProgress, "update: lease held by %s", string(holder))
	}
	return &lease{store: s, token: token, ttl: ttl}, nil
}

// renew pushes the lease deadline out by a full ttl. It reports false once
// the lease has expired or belongs to someone else.
func (l *lease) renew(ctx context.Context) (bool, error) {
	if l == nil {
		return true, nil
	}
	ok, err := l.store.Extend(ctx, store.RunLeaseKey, []byte(l.token), l.ttl)
	if err != nil {
		return false, eris.Wrap(err, "update: renew lease")
	}
	return ok, nil
}

// release deletes the lease if it still carries our token.
func (l *lease) release(ctx context.Context) {
	if l == nil {
		return
	}
	ok, err := l.store.DeleteIf(ctx, store.RunLeaseKey, []byte(l.token))
	if err != nil {
		zap.L().Warn("update: release lease", zap.Error(err))
		return
	}
	if !ok {
		zap.L().Warn("update: lease expired or taken over, not releasing", zap.String("token", l.token))
	}
}
