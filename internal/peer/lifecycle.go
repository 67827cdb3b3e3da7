package peer

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Start launches discovery, the chat loop and the configured UIs. Each
// runs until Shutdown or /quit.
func (a *App) Start() {
	if a == nil {
		return
	}
	a.startOnce.Do(a.start)
}

func (a *App) start() {
	a.started = true
	g, ctx := errgroup.WithContext(a.ctx)

	if err := a.Discovery.Start(ctx); err != nil {
		a.log.Warn("discovery listener unavailable, announcing only", zap.Error(err))
	}
	g.Go(func() error { return a.Discovery.Run(ctx) })
	g.Go(func() error { return a.Chat.Run(ctx, a.Discovery.Events(), a.Server.Incoming()) })

	if a.API != nil {
		g.Go(func() error {
			if err := a.API.Run(ctx); err != nil {
				a.log.Warn("api stopped", zap.Error(err))
			}
			return nil
		})
	}
	if a.tui != nil {
		g.Go(func() error {
			err := a.tui.Run(ctx)
			a.cancel()
			return err
		})
	}
	if a.cli != nil {
		a.cli.ShowSystem("type /peers to list peers, /open <peer> to start chatting")
		go a.Chat.ReadCLIInput(os.Stdin)
	}

	go func() { a.done <- g.Wait() }()
}

// Done is closed when the node is stopping, including after /quit.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Shutdown says goodbye on the LAN, stops every loop and flushes storage.
func (a *App) Shutdown() error {
	if a == nil {
		return nil
	}
	var err error
	a.shutdownOnce.Do(func() {
		err = a.Discovery.Close()
		a.cancel()
		a.Server.Stop()
		if a.API != nil {
			a.API.Close()
		}
		if a.started {
			if runErr := <-a.done; runErr != nil && !errors.Is(runErr, context.Canceled) {
				err = multierr.Append(err, runErr)
			}
		}
		err = multierr.Append(err, a.Chat.Flush())
		err = multierr.Append(err, a.Contacts.Close())
	})
	return err
}

// WaitForShutdown blocks until SIGINT/SIGTERM or /quit, then stops the app.
func WaitForShutdown(app *App) error {
	if app == nil {
		return nil
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-app.Done():
	}
	app.log.Info("shutting down")
	return app.Shutdown()
}
