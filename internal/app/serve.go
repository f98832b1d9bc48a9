package app

import (
	"context"
	"strings"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/serve"
	"github.com/vk/assetforge/internal/watch"
)

// Watch runs an initial build and then rebuilds on every debounced change
// batch until the context is cancelled.
func (a *App) Watch(ctx context.Context) error {
	return a.watchLoop(ctx, nil)
}

// Serve starts the development server on top of watch mode; every completed
// build is broadcast to live-reload subscribers.
func (a *App) Serve(ctx context.Context) error {
	server := serve.New(a.config.ServeAddr, a.resolveRequest)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Run(ctx)
	}()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- a.watchLoop(ctx, server)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-watchDone:
		return err
	}
}

// watchLoop is the shared build-on-change loop. A non-nil server receives a
// broadcast after every build.
func (a *App) watchLoop(ctx context.Context, server *serve.Server) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	buildOnce := func() {
		result, err := a.Build(ctx)
		if err != nil {
			logger.Error("Build could not run.", "error", err)
			if server != nil {
				server.Broadcast(ctx, serve.BuildEvent{Succeeded: false})
			}
			return
		}
		if server != nil {
			server.Broadcast(ctx, serve.BuildEvent{
				Succeeded: result.Succeeded,
				Actions:   result.ActionsRun,
				Outputs:   result.OutputsWritten,
			})
		}
	}

	buildOnce()

	watcher, err := watch.New(a.pkgs)
	if err != nil {
		return err
	}
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Run(ctx)
	}()

	logger.Info("👀 Watching for changes...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watchErr:
			return err
		case batch := <-watcher.Batches():
			logger.Info("Changes detected; rebuilding.", "files", len(batch))
			buildOnce()
		}
	}
}

// resolveRequest maps a request path into the merged source+generated tree
// of the most recent build: root package assets directly, other packages'
// lib assets under packages/<pkg>/.
func (a *App) resolveRequest(path string) ([]byte, bool) {
	if a.current == nil {
		return nil, false
	}

	var id assetid.ID
	if rest, ok := strings.CutPrefix(path, "packages/"); ok {
		pkg, lib, found := strings.Cut(rest, "/")
		if !found {
			return nil, false
		}
		id = assetid.New(pkg, "lib/"+lib)
	} else {
		id = assetid.New(a.pkgs.Root, path)
	}

	node := a.current.Get(id)
	if node == nil {
		return nil, false
	}
	switch node.Kind {
	case graph.KindSource:
		content, err := a.fs.Read(id, false)
		return content, err == nil
	case graph.KindGenerated:
		if node.Generated.State != graph.StateSuccess || !node.Generated.WasOutput {
			return nil, false
		}
		content, err := a.fs.Read(id, node.Generated.IsHidden)
		return content, err == nil
	default:
		return nil, false
	}
}
