package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// Runtime owns one *http.Server per configured Bind plus the admin server,
// and drives graceful shutdown and local-file config reload.
type Runtime struct {
	Store      *config.Store
	Admin      *AdminServer
	AdminAddr  string
	gateways   map[config.BindIndex]*Gateway
	servers    []*http.Server
}

// NewRuntime builds one http.Server per Bind in the current snapshot,
// routed through a Gateway constructed from the shared pipeline/selector
// components.
func NewRuntime(store *config.Store, admin *AdminServer, adminAddr string, newGateway func(config.BindIndex) *Gateway) *Runtime {
	handle := store.Current()
	defer handle.Release()
	snap := handle.Get()

	rt := &Runtime{Store: store, Admin: admin, AdminAddr: adminAddr, gateways: map[config.BindIndex]*Gateway{}}
	for i := range snap.Binds {
		bindIdx := config.BindIndex(i)
		bind := snap.Bind(bindIdx)
		gw := newGateway(bindIdx)
		rt.gateways[bindIdx] = gw

		srv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", bind.Address, bind.Port),
			Handler: gw,
		}
		if bind.Protocol == config.ProtocolHTTPTLS {
			srv.TLSConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
		}
		rt.servers = append(rt.servers, srv)
	}
	return rt
}

// Run starts every bind's listener plus the admin server, and blocks until
// ctx is cancelled (typically by a SIGTERM handler installed by the
// caller), then drains connections gracefully. If a listener fails first,
// Run returns that error without shutting down the other servers.
func (rt *Runtime) Run(ctx context.Context) error {
	errCh := make(chan error, len(rt.servers)+1)

	for _, srv := range rt.servers {
		srv := srv
		go func() {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}
	if rt.Admin != nil {
		adminSrv := &http.Server{Addr: rt.AdminAddr, Handler: rt.Admin}
		rt.servers = append(rt.servers, adminSrv)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range rt.servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// WaitForSignals blocks until SIGTERM/SIGINT (returning to trigger
// graceful drain) or SIGHUP (triggering a config reload callback), looping
// on SIGHUP indefinitely.
func WaitForSignals(ctx context.Context, onReload func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if onReload != nil {
					onReload()
				}
			default:
				return
			}
		}
	}
}

// FileWatcher reloads Store from Path whenever the file changes on disk,
// and also exposes a manual Reload for the SIGHUP path.
type FileWatcher struct {
	Store *config.Store
	Path  string

	watcher *fsnotify.Watcher
}

func NewFileWatcher(store *config.Store, path string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}
	return &FileWatcher{Store: store, Path: path, watcher: w}, nil
}

// Run applies the file once immediately, then reapplies it on every write
// event until ctx is cancelled.
func (fw *FileWatcher) Run(ctx context.Context) {
	fw.Reload()
	for {
		select {
		case <-ctx.Done():
			fw.watcher.Close()
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fw.Reload()
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("file watcher error", "path", fw.Path, "err", err)
		}
	}
}

// Reload re-reads and re-applies the watched file, logging (but not failing) a
// rejected configuration: the previous snapshot continues to serve.
func (fw *FileWatcher) Reload() {
	raw, err := os.ReadFile(fw.Path)
	if err != nil {
		logger.Error("reading config file", "path", fw.Path, "err", err)
		return
	}
	doc, err := config.ParseDocument(raw)
	if err != nil {
		logger.Error("parsing config file", "path", fw.Path, "err", err)
		return
	}
	result := fw.Store.ApplyDocument(doc)
	if !result.Accepted {
		logger.Warn("rejected reloaded configuration", "path", fw.Path, "errors", len(result.Errors))
	}
}
