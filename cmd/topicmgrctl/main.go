/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tryfix/log"

	_ "github.com/gmbyapa/topicmgr/kafka/adaptors/librd"
	_ "github.com/gmbyapa/topicmgr/kafka/adaptors/sarama"
	"github.com/gmbyapa/topicmgr/pkg/async"
	"github.com/gmbyapa/topicmgr/topicmgr"
)

func main() {
	flag.Parse()

	logger := log.Constructor.Log(log.WithLevel(log.INFO))

	cfg := loadConfig()
	cfg.Logger = logger

	if len(cfg.BootstrapServers) == 0 {
		cfg.BootstrapServers = []string{`localhost:9092`}
	}

	mgr, err := topicmgr.NewManager(cfg)
	if err != nil {
		logger.Fatal(fmt.Sprintf(`topicmgrctl: cannot start manager: %s`, err))
	}
	defer mgr.Close()

	args := flag.Args()
	if len(args) > 0 {
		if err := runCommand(mgr, args); err != nil {
			logger.Fatal(fmt.Sprintf(`topicmgrctl: %s`, err))
		}
		return
	}

	runDaemon(mgr, logger)
}

// runDaemon keeps topicmgrctl alive as a long-running process, fanning
// out the optional debug HTTP server and the interrupt signal wait onto
// an async.RunGroup so ctrl-c tears both down in lockstep.
func runDaemon(mgr *topicmgr.Manager, logger log.Logger) {
	group := async.NewRunGroup(logger)

	if debugHost := os.Getenv(`TOPICMGR_DEBUG_HTTP_HOST`); debugHost != `` {
		group.Add(debugHTTPFn(debugHost, mgr, logger))
	}

	group.Add(func(opts *async.Opts) error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		opts.Ready()

		logger.Info(`topicmgrctl: running, press ctrl-c to exit`)
		select {
		case <-sig:
			return nil
		case <-opts.Stopping():
			return nil
		}
	})

	if err := group.Run(); err != nil {
		logger.Fatal(fmt.Sprintf(`topicmgrctl: %s`, err))
	}
}
