package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sipdmod/internal/logging"
)

// CredentialSource yields the bearer token attached to every request. An
// empty token means unauthenticated; the request is still sent.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static is a fixed token.
type Static string

func (s Static) Token(context.Context) (string, error) { return string(s), nil }

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token(context.Context) (string, error) {
	if e == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// Chain returns the first non-empty token. Failing sources are logged and skipped.
type Chain []CredentialSource

func (c Chain) Token(ctx context.Context) (string, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token(ctx)
		if err != nil {
			logging.RetrievalDebug("credential source %T failed: %v", src, err)
			errs = append(errs, err)
			continue
		}
		if tok != "" {
			return tok, nil
		}
	}
	if len(errs) == len(c) && len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", nil
}

// FileToken serves a token read from a file and reloads it when the file
// changes, so a login helper can rotate it under a running session.
type FileToken struct {
	path string

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileToken reads path once. A missing file yields an empty token until it
// is created.
func NewFileToken(path string) (*FileToken, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	ft := &FileToken{path: abs}
	if err := ft.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return ft, nil
}

func (f *FileToken) Token(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token, nil
}

func (f *FileToken) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.mu.Lock()
		f.token = ""
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.token = strings.TrimSpace(string(data))
	f.mu.Unlock()
	return nil
}

// Start watches the token file's directory until ctx is done or Stop is
// called. Editors and login helpers usually replace the file rather than
// write it in place, so the directory is watched and events filtered by name.
func (f *FileToken) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return err
	}
	f.watcher = w
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	logging.Retrieval("FileToken: watching %s", f.path)
	go f.run(ctx)
	return nil
}

// Stop ends the watch and waits for the watcher goroutine.
func (f *FileToken) Stop() {
	if f.watcher == nil {
		return
	}
	close(f.stopCh)
	<-f.doneCh
	if err := f.watcher.Close(); err != nil {
		logging.RetrievalWarn("FileToken: close watcher: %v", err)
	}
	f.watcher = nil
}

func (f *FileToken) run(ctx context.Context) {
	defer close(f.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
				logging.RetrievalWarn("FileToken: reload %s: %v", f.path, err)
				continue
			}
			logging.RetrievalDebug("FileToken: reloaded after %s", ev.Op)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logging.RetrievalWarn("FileToken: watcher error: %v", err)
		}
	}
}
