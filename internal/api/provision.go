package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/db"
)

// provisioner creates the default profile of every new account, the way a
// database trigger on the auth users table would. Clients cannot rely on it
// having run when sign-up returns.
type provisioner struct {
	store TableStore
	delay time.Duration
	log   *zap.Logger

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func newProvisioner(store TableStore, delay time.Duration, logger *zap.Logger) *provisioner {
	return &provisioner{store: store, delay: delay, log: logger, stop: make(chan struct{})}
}

// schedule provisions u after the configured delay: zero runs inline and a
// negative delay disables provisioning.
func (p *provisioner) schedule(u *db.AuthUser) {
	if p.delay < 0 {
		return
	}
	if p.delay == 0 {
		p.provision(u.ID, u.Email)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.provision(u.ID, u.Email)
		return
	}
	p.wg.Add(1)
	go func(id, email string) {
		defer p.wg.Done()
		t := time.NewTimer(p.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-p.stop:
		}
		p.provision(id, email)
	}(u.ID, u.Email)
}

func (p *provisioner) provision(id, email string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.ProvisionProfile(ctx, id, email); err != nil {
		p.log.Error("profile provisioning failed", zap.String("user_id", id), zap.Error(err))
		return
	}
	p.log.Debug("profile provisioned", zap.String("user_id", id))
}

// close runs pending provisions right away and waits for them.
func (p *provisioner) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
