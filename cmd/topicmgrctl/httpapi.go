/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/log"

	"github.com/gmbyapa/topicmgr/pkg/async"
	"github.com/gmbyapa/topicmgr/topicmgr"
)

// debugHTTPFn builds an async.Fn exposing a minimal read-only status
// surface over the Topic Manager: /healthz and /topics. It deliberately
// stops at listing, not a full admin HTTP API (that surface is out of
// scope). Shuts down gracefully when the run group signals stopping.
func debugHTTPFn(host string, mgr *topicmgr.Manager, logger log.Logger) async.Fn {
	r := mux.NewRouter()

	r.HandleFunc(`/healthz`, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set(`Content-Type`, `application/json`)
		_ = json.NewEncoder(w).Encode(map[string]string{`status`: `ok`})
	}).Methods(http.MethodGet)

	r.HandleFunc(`/topics`, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set(`Content-Type`, `application/json`)

		topics, err := mgr.ListTopics()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{`error`: err.Error()})
			return
		}

		names := make([]string, 0, len(topics))
		for name := range topics {
			names = append(names, name)
		}
		sort.Strings(names)

		_ = json.NewEncoder(w).Encode(names)
	}).Methods(http.MethodGet)

	server := &http.Server{Addr: host, Handler: handlers.CORS()(r)}

	return func(opts *async.Opts) error {
		go func() {
			<-opts.Stopping()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()

		logger.Info(fmt.Sprintf(`topicmgrctl: debug http server started on %s`, host))
		opts.Ready()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf(`topicmgrctl: debug http server failed: %w`, err)
		}
		return nil
	}
}
