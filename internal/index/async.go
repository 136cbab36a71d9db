package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lexerrors "github.com/clearbrief/lexindex/internal/errors"
	"github.com/clearbrief/lexindex/internal/store"
)

// Progress is the observable state of a background indexing run.
type Progress struct {
	Running   bool      `json:"running"`
	Folder    string    `json:"folder,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Report    *Report   `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// BackgroundIndexer runs add/remove operations off the query path so
// callers are never blocked on embedding generation. One run at a time;
// a second start while busy is rejected rather than queued.
type BackgroundIndexer struct {
	manager *Manager
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	progress Progress
	doneCh   chan struct{}
	cancel   context.CancelFunc
}

// NewBackgroundIndexer wraps the manager for asynchronous indexing.
func NewBackgroundIndexer(manager *Manager, logger *slog.Logger) *BackgroundIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundIndexer{manager: manager, logger: logger}
}

// Start launches AddDocuments in a goroutine and returns immediately.
// Returns a rebuild-busy error if a run is already in flight.
func (b *BackgroundIndexer) Start(ctx context.Context, docs []*store.Document, sourceFolder string, force bool) error {
	return b.start(ctx, sourceFolder, func(ctx context.Context) (*Report, error) {
		return b.manager.AddDocuments(ctx, docs, sourceFolder, force)
	})
}

// StartSync launches SyncFolder in a goroutine, so documents whose
// files disappeared from folder are also removed. Same busy semantics
// as Start.
func (b *BackgroundIndexer) StartSync(ctx context.Context, docs []*store.Document, folder string) error {
	return b.start(ctx, folder, func(ctx context.Context) (*Report, error) {
		return b.manager.SyncFolder(ctx, docs, folder)
	})
}

func (b *BackgroundIndexer) start(ctx context.Context, folder string, op func(context.Context) (*Report, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return lexerrors.New(lexerrors.ErrCodeRebuildBusy, "an indexing run is already in progress", nil).
			WithDetail("folder", b.progress.Folder)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.doneCh = make(chan struct{})
	b.progress = Progress{Running: true, Folder: folder, StartedAt: time.Now()}

	go b.run(runCtx, folder, op)
	return nil
}

func (b *BackgroundIndexer) run(ctx context.Context, sourceFolder string, op func(context.Context) (*Report, error)) {
	report, err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.progress.Running = false
	b.progress.Report = report
	if err != nil {
		b.progress.Error = err.Error()
		b.logger.Error("background indexing failed",
			slog.String("folder", sourceFolder),
			slog.String("error", err.Error()))
	}
	close(b.doneCh)
}

// Progress returns a copy of the current run state.
func (b *BackgroundIndexer) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// IsRunning reports whether a run is in flight.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Wait blocks until the current run finishes. Returns immediately when
// nothing is running.
func (b *BackgroundIndexer) Wait() {
	b.mu.Lock()
	done := b.doneCh
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the in-flight run, if any, and waits for it to exit.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.Wait()
}
