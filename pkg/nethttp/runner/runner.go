package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

type Server interface {
	Serve(listener net.Listener) error
	Shutdown(ctx context.Context) error
}

// RunServer starts serving on addr and shuts the server down once ctx is
// done. Serve and Shutdown failures are sent to errChan; wgr tracks both
// goroutines.
func RunServer(
	ctx context.Context,
	server Server,
	addr string,
	errChan chan<- error,
	wgr *sync.WaitGroup,
	shutdownTimeout time.Duration,
) error {
	return runServer(ctx, server, addr, errChan, wgr, net.Listen, shutdownTimeout)
}

func runServer(
	ctx context.Context,
	server Server,
	addr string,
	errChan chan<- error,
	wgr *sync.WaitGroup,
	listen func(string, string) (net.Listener, error),
	shutdownTimeout time.Duration,
) error {
	listener, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("can't listen on %s: %w", addr, err)
	}

	wgr.Add(2)

	go func() {
		defer wgr.Done()

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("can't start http server: %w", err)
		}
	}()

	go func() {
		defer wgr.Done()

		<-ctx.Done()

		// ctx is already done here; a zero timeout waits for all connections.
		sdCtx := context.Background()
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			sdCtx, cancel = context.WithTimeout(sdCtx, shutdownTimeout)
			defer cancel()
		}
		if err := server.Shutdown(sdCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("can't shutdown http server: %w", err)
		}
	}()

	return nil
}
