package cache

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/castkit/mediacache/internal/logctx"
	"github.com/castkit/mediacache/internal/policy"
	"github.com/castkit/mediacache/internal/queue"
	"github.com/castkit/mediacache/internal/reachability"
	"github.com/castkit/mediacache/internal/settings"
	"github.com/castkit/mediacache/internal/telemetry"
	"github.com/castkit/mediacache/internal/transfer"
)

const (
	// removalBudgetPerRun caps how many stale files one sweep may delete.
	removalBudgetPerRun = 16

	// maxStartsPerRun bounds how many background transfers one preload run
	// may queue; items beyond it are reconsidered on the next trigger.
	maxStartsPerRun = 64

	// removalGracePeriod protects recently touched files from eviction even
	// when they are no longer queued.
	removalGracePeriod = 72 * time.Hour
)

// FileRepository reconciles user settings, live reachability, the playback
// queue and the transfer engine into a single download policy. It supervises
// the engine but never performs HTTP itself.
type FileRepository struct {
	client    transfer.Client
	source    queue.Source
	prefs     settings.Store
	gate      *reachability.Gate
	probeHost string
	tel       *telemetry.Telemetry

	now func() time.Time

	mu            sync.Mutex
	removalBudget int
	onResume      func()
}

// NewFileRepository wires the orchestrator. probeHost is the representative
// host probed once per preload run before any per-item work.
func NewFileRepository(
	client transfer.Client,
	source queue.Source,
	prefs settings.Store,
	prober reachability.Prober,
	probeHost string,
	tel *telemetry.Telemetry,
) *FileRepository {
	return &FileRepository{
		client:    client,
		source:    source,
		prefs:     prefs,
		gate:      reachability.NewGate(prober),
		probeHost: probeHost,
		tel:       tel,
		now:       time.Now,
	}
}

// SetResumeHook registers the callback fired once when the probed host
// transitions back to reachable after a preload run was denied for
// reachability reasons. Typically it re-triggers a preload.
func (r *FileRepository) SetResumeHook(hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onResume = hook
}

// Suspend releases any armed reachability probe. Call it when the process is
// about to idle so a deferred callback cannot misfire long after its
// triggering condition.
func (r *FileRepository) Suspend() {
	r.gate.Release()
}

// Resolve answers where to play url from. A cache hit returns the local copy
// immediately, before any policy or reachability evaluation. Otherwise the
// outcome is one of: a started transfer's ref, the unchanged remote URL with
// nil error (play directly, no local copy will be made), or a *policy.Denial.
func (r *FileRepository) Resolve(ctx context.Context, rawURL string, allowStreaming bool) (transfer.FileRef, error) {
	if ref := r.client.LocalFile(rawURL); ref != nil {
		return *ref, nil
	}

	status := r.gate.Check(hostOf(rawURL))
	prefs := r.prefs.Snapshot()

	if allowStreaming {
		if denial := policy.Decide(policy.IntentStreamOrDownload, status, prefs); denial != nil {
			r.tel.RecordPolicyDenial(ctx, denial.Reason.String())

			return transfer.FileRef{}, denial
		}

		if !prefs.AutomaticDownloads || policy.Decide(policy.IntentDownload, status, prefs) != nil {
			return transfer.FileRef{URL: rawURL}, nil
		}

		return r.startTransfer(ctx, rawURL)
	}

	if denial := policy.Decide(policy.IntentDownload, status, prefs); denial != nil {
		r.tel.RecordPolicyDenial(ctx, denial.Reason.String())

		return transfer.FileRef{}, denial
	}

	if !prefs.AutomaticDownloads {
		return transfer.FileRef{URL: rawURL}, nil
	}

	return r.startTransfer(ctx, rawURL)
}

// Preload is the fire-and-forget variant of Resolve under download intent.
// Errors are logged, never propagated.
func (r *FileRepository) Preload(ctx context.Context, rawURL string) {
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		if _, err := r.Resolve(bgCtx, rawURL, false); err != nil {
			logctx.LoggerFromContext(bgCtx).Debug("preload skipped", "url", rawURL, "err", err)
		}
	}()
}

// CancelTransfer is best-effort; a later Resolve may restart the transfer.
func (r *FileRepository) CancelTransfer(ctx context.Context, rawURL string) {
	r.client.Cancel(ctx, rawURL)
}

// RemoveCachedFile deletes the local copy and then cancels any in-flight
// transfer for the same URL, so a re-download cannot race the deletion.
func (r *FileRepository) RemoveCachedFile(ctx context.Context, rawURL string) error {
	_, err := r.client.RemoveFile(ctx, rawURL)

	r.client.Cancel(ctx, rawURL)

	return err
}

// PreloadQueue walks the playback queue and starts a transfer for every
// enclosure not yet cached, up to maxStartsPerRun. With alsoRemoveStale it
// afterwards sweeps cached files no longer queued, bounded by the per-run
// removal budget. Callers must not issue overlapping runs.
func (r *FileRepository) PreloadQueue(ctx context.Context, alsoRemoveStale bool) error {
	logger := logctx.LoggerFromContext(ctx)
	start := r.now()

	// Fresh decision: drop whatever probe a previous run left armed.
	r.gate.Release()

	status := r.gate.Check(r.probeHost)
	prefs := r.prefs.Snapshot()

	if denial := policy.Decide(policy.IntentDownload, status, prefs); denial != nil {
		r.tel.RecordPolicyDenial(ctx, denial.Reason.String())
		r.armResume(denial.Reason)
		r.tel.RecordPreloadRun(ctx, r.now().Sub(start), false)

		return denial
	}

	if !prefs.AutomaticDownloads {
		r.tel.RecordPreloadRun(ctx, r.now().Sub(start), true)

		return nil
	}

	var (
		runErr  error
		started int
		keep    = make(map[string]struct{})
	)

	enumErr := r.source.Enumerate(ctx, func(rawURL string) error {
		keep[rawURL] = struct{}{}

		if r.client.LocalFile(rawURL) != nil {
			return nil
		}

		if started >= maxStartsPerRun {
			logger.Debug("transfer ceiling reached, skipping this run", "url", rawURL)

			return nil
		}

		started++

		if _, err := r.client.Start(ctx, rawURL); err != nil {
			logger.Error("failed to start transfer", "url", rawURL, "err", err)

			if runErr == nil {
				runErr = err
			}

			return nil
		}

		r.tel.RecordTransferStart(ctx)

		return nil
	})

	if enumErr != nil {
		if errors.Is(enumErr, queue.ErrMissingEntries) {
			logger.Warn("queue enumeration incomplete", "err", enumErr)
		} else {
			// An enumeration failure outranks per-item transfer errors.
			runErr = enumErr
		}
	}

	if alsoRemoveStale {
		if err := r.removeStale(ctx, keep); err != nil {
			logger.Error("stale file sweep failed", "err", err)

			if runErr == nil {
				runErr = err
			}
		}
	}

	r.tel.RecordPreloadRun(ctx, r.now().Sub(start), runErr == nil)
	logger.Info("preload run finished", "queued_urls", len(keep), "transfers_started", started, "err", runErr)

	return runErr
}

func (r *FileRepository) startTransfer(ctx context.Context, rawURL string) (transfer.FileRef, error) {
	ref, err := r.client.Start(ctx, rawURL)
	if err != nil {
		return transfer.FileRef{}, err
	}

	r.tel.RecordTransferStart(ctx)

	return ref, nil
}

func (r *FileRepository) removeStale(ctx context.Context, keep map[string]struct{}) error {
	r.mu.Lock()
	r.removalBudget = removalBudgetPerRun
	r.mu.Unlock()

	err := r.client.RemoveAll(ctx, keep, r.approveRemoval(ctx))

	r.mu.Lock()
	// The budget is scoped to this run; a leftover balance must not leak
	// into the next sweep.
	r.removalBudget = 0
	r.mu.Unlock()

	return err
}

// approveRemoval builds the per-candidate predicate: a file is evicted only
// when it has not been touched within the grace period and the run's budget
// is not exhausted. Fresh files never consume budget.
func (r *FileRepository) approveRemoval(ctx context.Context) transfer.ApproveRemoval {
	return func(rawURL string, lastModified time.Time) bool {
		if r.now().Sub(lastModified) <= removalGracePeriod {
			return false
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.removalBudget <= 0 {
			return false
		}

		r.removalBudget--
		r.tel.RecordRemoval(ctx)

		return true
	}
}

func (r *FileRepository) armResume(reason policy.Reason) {
	if reason != policy.ReasonUnreachable && reason != policy.ReasonUnknownReachability {
		// Settings-based denials don't resolve by waiting for the network.
		r.gate.Release()

		return
	}

	r.mu.Lock()
	hook := r.onResume
	r.mu.Unlock()

	if hook == nil {
		return
	}

	r.gate.OnBecameReachable(hook)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return parsed.Hostname()
}
