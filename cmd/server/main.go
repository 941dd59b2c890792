package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"fleet-policy/pkg/api"
	"fleet-policy/pkg/automation"
	"fleet-policy/pkg/db"
	"fleet-policy/pkg/leader"
	"fleet-policy/pkg/queue"
	"fleet-policy/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	workers := flag.Int("sync-workers", 4, "background reconciliation workers")
	sweep := flag.Duration("sweep-interval", 30*time.Minute, "full reconcile sweep interval (0 disables)")
	noAuth := flag.Bool("no-auth", false, "disable JWT auth (behind an authenticating proxy)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (builds with -tags consul)")
	lockKey := flag.String("lock-key", "fleet-policy/locks/leader", "consul lock key for the sweep leader")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	flag.Parse()

	gdb, err := db.Init()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	q := queue.NewWorkers(*workers)
	defer q.Close()

	hub := api.NewWSHub()
	dispatcher := &automation.Dispatcher{DB: gdb, Queue: q, Notifier: hub}

	authz := api.AuthFuncJWT
	if *noAuth {
		authz = api.AllowAll
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	(&api.AuthHandler{DB: gdb}).RegisterRoutes(mux)
	mux.HandleFunc("/api/v1/ws/agent", hub.HandleAgentWS)

	h := &api.AutomationHandler{DB: gdb, Dispatcher: dispatcher}
	h.RegisterRoutes(mux, authz)
	h.RegisterStatusRoutes(mux, authz)
	h.RegisterWinUpdateRoutes(mux, authz)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *sweep > 0 {
		go leader.Guard(ctx, *consulAddr, *lockKey, func(lctx context.Context) {
			ticker := time.NewTicker(*sweep)
			defer ticker.Stop()
			for {
				select {
				case <-lctx.Done():
					return
				case <-ticker.C:
					if err := automation.SyncAll(gdb); err != nil {
						log.Printf("sweep failed: %v", err)
					}
				}
			}
		})
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("fleet-policy %s listening on %s", version.Build, *addr)
	if *tlsCert != "" && *tlsKey != "" {
		if *clientCA != "" {
			cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
			if errTLS != nil {
				log.Fatalf("failed to build TLS config: %v", errTLS)
			}
			srv.TLSConfig = cfg
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		}
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
