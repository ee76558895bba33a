// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/perpdex/api/server"
	"github.com/luxfi/perpdex/utils/profiler"
	"github.com/luxfi/perpdex/vms/perpvm"
)

const metricsEndpoint = "metrics"

// Node is a single sequencer serving the perpetuals VM over HTTP.
type Node struct {
	log      log.Logger
	config   *Config
	registry metric.Registry
	db       database.Database
	vm       *perpvm.VM
	server   server.Server
}

// NewNode opens the database, initializes the VM and registers its handlers
// on an API server bound to listener.
func NewNode(ctx context.Context, config *Config, logger log.Logger, listener net.Listener) (*Node, error) {
	db, err := openDB(config.DBDir)
	if err != nil {
		return nil, err
	}

	registry := metric.NewRegistry()
	vm := perpvm.New(logger, registry)
	if err := vm.Initialize(ctx, db, config.GenesisBytes, config.VMConfigBytes); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	n := &Node{
		log:      logger,
		config:   config,
		registry: registry,
		db:       db,
		vm:       vm,
	}
	if err := n.initServer(ctx, listener); err != nil {
		return nil, errors.Join(err, vm.Shutdown(ctx))
	}
	return n, nil
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	db, err := badgerdb.New(dir, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dir, err)
	}
	return db, nil
}

func (n *Node) initServer(ctx context.Context, listener net.Listener) error {
	var err error
	n.server, err = server.New(
		n.log,
		listener,
		n.config.AllowedOrigins,
		n.config.ShutdownTimeout,
		n.registry,
		server.HTTPConfig{
			ReadHeaderTimeout: n.config.ReadHeaderTimeout,
		},
		n.config.AllowedHosts,
	)
	if err != nil {
		return err
	}

	handlers, err := n.vm.CreateHandlers(ctx)
	if err != nil {
		return err
	}
	for endpoint, handler := range handlers {
		if err := n.server.AddRoute(handler, perpvm.Name, endpoint); err != nil {
			return err
		}
	}
	return n.server.AddRoute(gatherHandler(n.registry), metricsEndpoint, "")
}

// Dispatch serves the API and builds a block every block interval until ctx
// is cancelled. The VM is shut down before Dispatch returns.
func (n *Node) Dispatch(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(n.server.Dispatch)
	eg.Go(func() error {
		return n.buildBlocks(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		return n.server.Shutdown()
	})
	if n.config.Profiler.Enabled {
		p := profiler.NewContinuous(n.config.Profiler)
		eg.Go(p.Dispatch)
		eg.Go(func() error {
			<-ctx.Done()
			p.Shutdown()
			return nil
		})
	}
	err := eg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), n.config.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, n.vm.Shutdown(shutdownCtx))
}

func (n *Node) buildBlocks(ctx context.Context) error {
	ticker := time.NewTicker(n.config.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			res, err := n.vm.BuildBlock(ctx, now)
			switch {
			case errors.Is(err, perpvm.ErrNoPendingTxs), errors.Is(err, context.Canceled):
				continue
			case err != nil:
				return fmt.Errorf("failed to build block: %w", err)
			}
			n.log.Info("Built block",
				"height", res.Height,
				"txs", len(res.Txs),
			)
		}
	}
}

// Run serves a node on the configured address until ctx is cancelled.
func Run(ctx context.Context, config *Config, logger log.Logger) error {
	addr := net.JoinHostPort(config.HTTPHost, strconv.Itoa(int(config.HTTPPort)))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	n, err := NewNode(ctx, config, logger, listener)
	if err != nil {
		return errors.Join(err, listener.Close())
	}
	logger.Info("Node started",
		"address", listener.Addr().String(),
		"dbDir", config.DBDir,
	)
	return n.Dispatch(ctx)
}

// gatherHandler writes the gathered metric families as JSON.
func gatherHandler(gatherer metric.Gatherer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		families, err := gatherer.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(families)
	})
}
