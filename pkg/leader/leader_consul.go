//go:build consul

package leader

import (
	"context"
	"log"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// Guard blocks until this instance holds the consul lock at key, then runs
// fn; if the lock is lost fn's context is cancelled and acquisition starts
// over. Only one controller instance at a time drives background
// reconciliation this way.
func Guard(ctx context.Context, addr string, key string, fn func(ctx context.Context)) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		log.Printf("consul client failed: %v; running unguarded", err)
		fn(ctx)
		return
	}
	for ctx.Err() == nil {
		lock, err := cli.LockKey(key)
		if err != nil {
			log.Printf("consul lock setup failed: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		lostCh, err := lock.Lock(ctx.Done())
		if err != nil || lostCh == nil {
			time.Sleep(5 * time.Second)
			continue
		}
		log.Printf("leader acquired lock %s", key)
		lctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(lctx)
		}()
		select {
		case <-lostCh:
			log.Printf("leader lost lock %s", key)
		case <-ctx.Done():
		}
		cancel()
		<-done
		_ = lock.Unlock()
	}
}
