// Package engine computes the heterogeneous depth correction of a labeled
// stack. Every (x, y) column is scanned along depth with an OPL tracker and
// each depth position is turned into a correction value by the rational
// model. Columns are independent and are processed in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hetzcorr/internal/models"
	"hetzcorr/pkg/correction"
	"hetzcorr/pkg/labels"
	"hetzcorr/pkg/opl"
)

// FaultPolicy selects what happens when a voxel's correction cannot be evaluated.
type FaultPolicy string

const (
	// FaultAbort stops the run at the first numeric fault and returns it
	FaultAbort FaultPolicy = "abort"

	// FaultMark writes NaN into the faulted voxel and keeps going
	FaultMark FaultPolicy = "mark"
)

// ParseFaultPolicy converts a config or flag value into a FaultPolicy.
// The empty string selects FaultAbort.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch FaultPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FaultAbort:
		return FaultAbort, nil
	case FaultMark:
		return FaultMark, nil
	default:
		return "", fmt.Errorf("unknown fault policy %q (must be %q or %q)", s, FaultAbort, FaultMark)
	}
}

// Params holds the engine configuration.
type Params struct {
	// NumCores is the number of column workers, all CPUs when zero
	NumCores int

	// FaultPolicy decides between aborting and marking on numeric faults
	FaultPolicy FaultPolicy

	// Progress, when set, receives completed x-column counts
	Progress ProgressFunc

	// ProgressInterval throttles calls to Progress
	ProgressInterval time.Duration

	// Logger receives run-level messages; nothing is logged when nil
	Logger logrus.FieldLogger
}

// Result is the outcome of a correction run.
type Result struct {
	// Volume is the correction volume, same extent and calibration as the input
	Volume *models.CorrectionVolume

	// Labels is the label set the run was computed with
	Labels *labels.Set

	// Faults is the number of voxels marked NaN under FaultMark
	Faults int

	// FirstFault is the marked fault with the lowest voxel index, nil when none
	FirstFault *correction.NumericFault

	// Elapsed is the wall time of the column scan
	Elapsed time.Duration
}

// Engine runs the correction over whole volumes.
type Engine struct {
	params *Params
	logger logrus.FieldLogger
}

// NewEngine creates an engine. A nil params uses the defaults.
func NewEngine(params *Params) *Engine {
	if params == nil {
		params = &Params{}
	}
	logger := params.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Engine{
		params: params,
		logger: logger,
	}
}

// workerState collects what one worker saw while marking faults.
// columnBlock is the unit of work: the columns at x for rows y0 up to y1.
type columnBlock struct {
	x, y0, y1 int
}

type workerState struct {
	faults     int
	first      *correction.NumericFault
	firstIndex int
}

// Run computes the correction volume of vol for the given label set and
// coefficient table. The input volume and table are only read.
//
// Malformed volumes return an *InputError and a table that does not match
// the label set returns a *ConfigurationError, both before any work starts.
// An empty volume with a valid configuration yields an empty result without error.
//
// Work is dispatched as blocks of (x, y) columns. A volume narrower than the
// worker count is split along y as well so every worker gets columns.
// Progress counts completed x positions.
func (e *Engine) Run(ctx context.Context, vol *models.LabelVolume, set *labels.Set, table correction.Table) (*Result, error) {
	if err := validateVolume(vol); err != nil {
		return nil, err
	}

	if set == nil {
		return nil, &ConfigurationError{Reason: "label set is required"}
	}
	if len(table) != set.Len() {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("%d labels but %d coefficient triples", set.Len(), len(table)),
			Err:    correction.ErrLengthMismatch,
		}
	}

	policy := e.params.FaultPolicy
	if policy == "" {
		policy = FaultAbort
	}
	if policy != FaultAbort && policy != FaultMark {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown fault policy %q", policy)}
	}

	if vol.Empty() {
		e.logger.WithFields(logrus.Fields{
			"width":  vol.Width,
			"height": vol.Height,
			"depth":  vol.Depth,
		}).Warn("Empty label volume, nothing to correct")
		out := models.NewCorrectionVolume(vol.Width, vol.Height, vol.Depth)
		out.Calibration = vol.Calibration
		return &Result{Volume: out, Labels: set}, nil
	}

	numCores := e.params.NumCores
	if numCores < 1 {
		numCores = runtime.NumCPU()
	}
	if numCores > vol.Width*vol.Height {
		numCores = vol.Width * vol.Height
	}

	// One block per x unless x alone cannot feed every worker
	blocksPerX := 1
	if vol.Width < numCores {
		blocksPerX = (numCores + vol.Width - 1) / vol.Width
	}
	rowsPerBlock := (vol.Height + blocksPerX - 1) / blocksPerX
	blocksPerX = (vol.Height + rowsPerBlock - 1) / rowsPerBlock
	remaining := make([]atomic.Int32, vol.Width)
	for x := range remaining {
		remaining[x].Store(int32(blocksPerX))
	}

	out := models.NewCorrectionVolume(vol.Width, vol.Height, vol.Depth)
	out.Calibration = vol.Calibration

	// OPL can never exceed the column depth
	factors := correction.NewFactorTable(table, vol.Depth)

	e.logger.WithFields(logrus.Fields{
		"width":  vol.Width,
		"height": vol.Height,
		"depth":  vol.Depth,
		"labels": set.Len(),
		"cores":  numCores,
		"policy": string(policy),
	}).Info("Computing depth correction")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := startProgress(e.params.Progress, vol.Width, e.params.ProgressInterval)
	startTime := time.Now()

	order := make(chan columnBlock, numCores)
	go func() {
		defer close(order)
		for x := 0; x < vol.Width; x++ {
			for y0 := 0; y0 < vol.Height; y0 += rowsPerBlock {
				select {
				case order <- columnBlock{x: x, y0: y0, y1: min(y0+rowsPerBlock, vol.Height)}:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()

	var (
		wg        sync.WaitGroup
		abortOnce sync.Once
		abortErr  error
	)
	states := make([]workerState, numCores)

	for w := 0; w < numCores; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			state := &states[workerID]
			state.firstIndex = -1
			tracker := opl.NewTracker(set)
			column := make([]uint16, vol.Depth)
			done := runCtx.Done()

			for block := range order {
				x := block.x
				for y := block.y0; y < block.y1; y++ {
					select {
					case <-done:
						return
					default:
					}

					column = vol.Column(x, y, column)
					tracker.Reset()
					for z, label := range column {
						tracker.Step(label)
						idx := out.Index(x, y, z)
						value, err := factors.Evaluate(tracker.OPL())
						if err == nil {
							out.Data[idx] = value
							continue
						}

						var fault *correction.NumericFault
						if !errors.As(err, &fault) {
							fault = &correction.NumericFault{Label: -1}
						}
						fault = fault.At(x, y, z)

						if policy == FaultAbort {
							abortOnce.Do(func() {
								abortErr = fault
								cancel()
							})
							return
						}

						out.Data[idx] = math.NaN()
						state.faults++
						if state.firstIndex < 0 || idx < state.firstIndex {
							state.firstIndex = idx
							state.first = fault
						}
					}
				}
				if remaining[x].Add(-1) == 0 {
					progress.add(1)
				}
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(startTime)

	if abortErr != nil {
		progress.finish(false)
		return nil, fmt.Errorf("correction aborted: %w", abortErr)
	}
	if err := ctx.Err(); err != nil && int(progress.completed.Load()) < vol.Width {
		progress.finish(false)
		return nil, fmt.Errorf("correction cancelled: %w", err)
	}
	progress.finish(true)

	result := &Result{
		Volume:  out,
		Labels:  set,
		Elapsed: elapsed,
	}
	firstIndex := -1
	for _, s := range states {
		result.Faults += s.faults
		if s.first != nil && (firstIndex < 0 || s.firstIndex < firstIndex) {
			firstIndex = s.firstIndex
			result.FirstFault = s.first
		}
	}

	entry := e.logger.WithFields(logrus.Fields{
		"elapsed": elapsed.String(),
		"voxels":  len(out.Data),
	})
	if result.Faults > 0 {
		entry.WithField("faults", result.Faults).Warnf("Depth correction completed with marked faults: %v", result.FirstFault)
	} else {
		entry.Info("Depth correction completed")
	}

	return result, nil
}

// validateVolume checks that dimensions and data agree.
func validateVolume(vol *models.LabelVolume) error {
	if vol == nil {
		return &InputError{Reason: "label volume is nil"}
	}
	if vol.Width < 0 || vol.Height < 0 || vol.Depth < 0 {
		return &InputError{Reason: fmt.Sprintf("negative dimensions %dx%dx%d", vol.Width, vol.Height, vol.Depth)}
	}
	if len(vol.Data) != vol.Voxels() {
		return &InputError{Reason: fmt.Sprintf("%d voxels for dimensions %dx%dx%d", len(vol.Data), vol.Width, vol.Height, vol.Depth)}
	}
	return nil
}
