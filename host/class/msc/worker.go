package msc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ardnew/usbmsc/pkg"
)

// lunState tracks one LUN's last-known geometry and whether the host
// currently has a block device registered for it (spec.md §3 LUN/Block
// "device_added" invariant).
type lunState struct {
	geom  *lunGeometry // nil until the first successful probe
	added bool
}

// worker is the single goroutine that serializes all bulk-endpoint access
// for a bound device (spec.md §4.F). It cycles through three states:
// waiting on its select, dispatching queued transactions, or draining the
// queue on teardown. There is exactly one worker per Device.
type worker struct {
	t       *transactor
	blockIO *blockIO
	queue   *txQueue

	registrar Registrar

	mu   sync.RWMutex
	luns map[uint8]*lunState

	done chan struct{}
}

func newWorker(t *transactor, bio *blockIO, registrar Registrar) *worker {
	return &worker{
		t:         t,
		blockIO:   bio,
		queue:     newTxQueue(),
		registrar: registrar,
		luns:      make(map[uint8]*lunState),
		done:      make(chan struct{}),
	}
}

// initLUN creates an empty, not-yet-probed slot for lun so the idle sweep
// considers it even before its first successful probe (spec.md §4.F:
// "ready and not device_added" must be observable for every LUN in
// 0..=max_lun, not only ones Bind happened to probe successfully).
func (w *worker) initLUN(lun uint8) {
	w.mu.Lock()
	if _, ok := w.luns[lun]; !ok {
		w.luns[lun] = &lunState{}
	}
	w.mu.Unlock()
}

// registerLUN records a probed LUN's geometry, making it eligible for
// transactions, and whether the host accepted it (added). Called by Bind
// after a successful initial probe and registrar call.
func (w *worker) registerLUN(geom *lunGeometry, added bool) {
	w.mu.Lock()
	w.luns[geom.lun] = &lunState{geom: geom, added: added}
	w.mu.Unlock()
}

func (w *worker) lunGeometry(lun uint8) (*lunGeometry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.luns[lun]
	if !ok || st.geom == nil {
		return nil, false
	}
	return st.geom, true
}

// run is the worker's main loop. It returns, closing done, once ctx is
// canceled (Device.Unbind) — after draining the queue with
// ResultIONotPresent completions.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(lunPollIntervalSeconds * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-w.queue.notify:
			w.dispatch(ctx)
		case <-ticker.C:
			w.sweepLUNs(ctx)
		}
	}
}

// dispatch executes every transaction queued since the last wakeup.
func (w *worker) dispatch(ctx context.Context) {
	for _, tx := range w.queue.popAll() {
		w.execute(ctx, tx)
	}
}

// drain completes every transaction still queued (or that arrives after
// close, which push now rejects) with IO_NOT_PRESENT.
func (w *worker) drain() {
	for _, tx := range w.queue.close() {
		w.complete(tx, ResultIONotPresent, ErrNotPresent)
	}
}

func (w *worker) execute(ctx context.Context, tx Transaction) {
	geom, ok := w.lunGeometry(tx.LUN)
	if !ok {
		w.complete(tx, ResultInvalidArgs, ErrLUNOutOfRange)
		return
	}

	var err error
	switch tx.Op {
	case OpRead:
		_, err = w.blockIO.read(ctx, geom, tx.Offset, tx.Blocks, tx.Buffer)
	case OpWrite:
		_, err = w.blockIO.write(ctx, geom, tx.Offset, tx.Blocks, tx.Buffer)
	case OpFlush:
		err = w.blockIO.flush(ctx, geom)
	default:
		err = ErrUnknownOp
	}

	w.complete(tx, resultFor(err), err)
}

func (w *worker) complete(tx Transaction, res Result, err error) {
	if err != nil {
		pkg.LogDebug(pkg.ComponentWorker, "transaction failed",
			"lun", tx.LUN, "op", tx.Op.String(), "result", res.String(), "err", err)
	}
	if tx.Complete != nil {
		tx.Complete(res)
	}
}

// sweepLUNs implements the idle-tick readiness poll (spec.md §4.F "LUN
// readiness sweep"): TEST UNIT READY every known LUN in order; a CSW
// failure gets REQUEST SENSE to clear the condition and is treated as
// not-ready; any other transact error aborts the sweep for this tick.
// Ready-and-not-added LUNs are probed and registered; not-ready-and-added
// LUNs are unregistered.
func (w *worker) sweepLUNs(ctx context.Context) {
	w.mu.RLock()
	luns := make([]uint8, 0, len(w.luns))
	for lun := range w.luns {
		luns = append(luns, lun)
	}
	w.mu.RUnlock()
	sort.Slice(luns, func(i, j int) bool { return luns[i] < luns[j] })

	for _, lun := range luns {
		ready, err := w.pollReady(ctx, lun)
		if err != nil {
			pkg.LogWarn(pkg.ComponentWorker, "readiness sweep aborted", "lun", lun, "err", err)
			return
		}

		w.mu.RLock()
		st := w.luns[lun]
		added := st.added
		w.mu.RUnlock()

		switch {
		case ready && !added:
			w.addLUN(ctx, lun)
		case !ready && added:
			w.removeLUN(lun)
		}
	}
}

// pollReady issues TEST UNIT READY for lun. A CSW command failure (BAD_STATE)
// is cleared with REQUEST SENSE and reported as not-ready, not an error; any
// other transact error (signature/tag/phase, all already triggering reset
// recovery inside transact) aborts the sweep.
func (w *worker) pollReady(ctx context.Context, lun uint8) (ready bool, err error) {
	terr := w.t.testUnitReady(ctx, lun)
	if terr == nil {
		return true, nil
	}
	if !errors.Is(terr, ErrCommandFailed) {
		return false, terr
	}
	var senseBuf [requestSenseAllocLength]byte
	if _, serr := w.t.requestSense(ctx, lun, senseBuf[:]); serr != nil {
		pkg.LogWarn(pkg.ComponentWorker, "request sense during sweep failed", "lun", lun, "err", serr)
	}
	return false, nil
}

// addLUN probes a newly-ready LUN and registers it with the host.
func (w *worker) addLUN(ctx context.Context, lun uint8) {
	geom, err := probeLUN(ctx, w.t, lun)
	if err != nil {
		pkg.LogWarn(pkg.ComponentWorker, "probe after ready failed", "lun", lun, "err", err)
		return
	}

	added := false
	if w.registrar != nil {
		if err := w.registrar.RegisterLUN(geom.info()); err != nil {
			pkg.LogWarn(pkg.ComponentWorker, "registrar rejected lun", "lun", lun, "err", err)
		} else {
			added = true
		}
	} else {
		added = true
	}

	w.mu.Lock()
	w.luns[lun] = &lunState{geom: geom, added: added}
	w.mu.Unlock()

	if added {
		pkg.LogInfo(pkg.ComponentWorker, "lun added", "lun", lun,
			"blocks", geom.totalBlocks, "block_size", geom.blockSize)
	}
}

// unregisterAll unregisters every LUN still marked added. Called once after
// the worker goroutine has exited (spec.md §4.G unbind).
func (w *worker) unregisterAll() {
	if w.registrar == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for lun, st := range w.luns {
		if !st.added {
			continue
		}
		if err := w.registrar.UnregisterLUN(lun); err != nil {
			pkg.LogWarn(pkg.ComponentWorker, "unregister at unbind failed", "lun", lun, "err", err)
		}
		st.added = false
	}
}

// removeLUN unregisters a LUN that has transitioned to not-ready.
func (w *worker) removeLUN(lun uint8) {
	if w.registrar != nil {
		if err := w.registrar.UnregisterLUN(lun); err != nil {
			pkg.LogWarn(pkg.ComponentWorker, "unregister on not-ready failed", "lun", lun, "err", err)
		}
	}

	w.mu.Lock()
	w.luns[lun] = &lunState{}
	w.mu.Unlock()

	pkg.LogInfo(pkg.ComponentWorker, "lun removed", "lun", lun)
}
