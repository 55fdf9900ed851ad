// Package pipeline runs the full tiled segmentation workflow: grid planning,
// parallel per-tile segmentation with failure isolation, overlap stitching,
// and label reconciliation into one whole-image map.
//
// The segmentation algorithm itself is externally supplied as a SegmentFunc;
// the pipeline is a scheduling and isolation boundary that makes no assumption
// about its internals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"segstitch/internal/models"
	"segstitch/pkg/grid"
	"segstitch/pkg/stitch"
)

// SegmentFunc maps a tile's pixel data to a label map of identical shape.
// It must be safe for concurrent calls and should be pure: the pipeline does
// not retry, since determinism is not guaranteed by the contract.
type SegmentFunc func(img *models.Image) (*models.LabelMap, error)

// ErrAllTilesFailed reports that every tile's segmentation failed; the run
// aborts with no output. Partial failure is not an error: failed tiles
// degrade to background and are listed in the summary.
var ErrAllTilesFailed = errors.New("all tiles failed")

// ErrIncompleteTileSet reports cancellation before every tile result was
// joined. Reconciliation requires the complete result set, so the run aborts
// with no partial output.
var ErrIncompleteTileSet = errors.New("incomplete tile set")

// Params configures a pipeline run.
type Params struct {
	// TileSize is the full (overlap-inclusive) tile edge length in pixels
	TileSize int

	// Overlap is the core-to-core overlap width in pixels, >= 0 and
	// strictly less than TileSize
	Overlap int

	// NumWorkers bounds concurrent segmentation calls; values below 1 are
	// treated as 1
	NumWorkers int

	// TileTimeout, when positive, converts an overrunning segmentation call
	// into a per-tile failure
	TileTimeout time.Duration

	// Stitch holds the correspondence-detection thresholds
	Stitch stitch.Options

	// Normalize enables per-channel zero-mean unit-variance normalization
	// before tiling
	Normalize bool

	// Verbose enables progress reporting to stdout
	Verbose bool
}

// Pipeline ties a tiling configuration to a segmentation function.
type Pipeline struct {
	params  *Params
	segment SegmentFunc
}

// New creates a pipeline. The segmentation function is required.
func New(params *Params, segment SegmentFunc) *Pipeline {
	return &Pipeline{params: params, segment: segment}
}

// tileResult is the per-tile success/failure variant joined by Run.
type tileResult struct {
	tileID int
	labels *models.LabelMap
	err    error
}

// Run executes the full workflow on an image and returns the global label
// map plus a diagnostic summary.
//
// Tiles are segmented independently on a bounded worker pool; a failing tile
// is recorded and its core region left as background while the rest of the
// run continues. Run fails terminally with ErrAllTilesFailed when no tile
// succeeds, with ErrIncompleteTileSet when ctx is cancelled before the join
// barrier, with grid.ErrInvalidGeometry for unusable tiling parameters, and
// with stitch.ErrReconciliation on internal inconsistencies. On success the
// summary's FailedTileIDs carries the per-tile warnings.
func (p *Pipeline) Run(ctx context.Context, img *models.Image) (*models.LabelMap, *models.Summary, error) {
	if p.segment == nil {
		return nil, nil, fmt.Errorf("no segmentation function provided")
	}
	start := time.Now()

	g, err := grid.Plan(img.Width, img.Height, p.params.TileSize, p.params.Overlap)
	if err != nil {
		return nil, nil, err
	}
	p.logf("Planned %dx%d tile grid (%d tiles, tile size %d, overlap %d)\n",
		g.Rows, g.Cols, len(g.Tiles), p.params.TileSize, p.params.Overlap)

	source := img
	if p.params.Normalize {
		p.logf("Normalizing %d channel(s)...\n", img.Channels)
		source = Normalize(img)
	}

	maps, failed, err := p.processTiles(ctx, source, g)
	if err != nil {
		return nil, nil, err
	}
	if len(maps) == 0 {
		return nil, nil, fmt.Errorf("%w: %d of %d tiles", ErrAllTilesFailed, len(failed), len(g.Tiles))
	}

	p.logf("Finding correspondences across %d adjacent tile pairs...\n", len(g.AdjacentPairs()))
	edges, err := stitch.FindCorrespondences(maps, g, p.params.Stitch)
	if err != nil {
		return nil, nil, err
	}
	p.logf("Found %d correspondence edges\n", len(edges))

	labels, diag, err := stitch.Reconcile(maps, edges, g)
	if err != nil {
		return nil, nil, err
	}

	summary := &models.Summary{
		FailedTileIDs:         failed,
		CoreAbsentObjectCount: diag.CoreAbsentObjectCount,
		ObjectCount:           diag.ObjectCount,
		TileObjectCount:       diag.TileObjectCount,
		PixelsLabeled:         diag.PixelsLabeled,
		Elapsed:               time.Since(start),
	}
	p.logf("Reconciled %d tile-local objects into %d global objects in %.2fs\n",
		summary.TileObjectCount, summary.ObjectCount, summary.Elapsed.Seconds())

	return labels, summary, nil
}

// processTiles dispatches segmentation over a worker pool and joins all
// results before returning. The returned map holds successful tiles keyed by
// tile ID; failed holds the IDs of failed tiles in ascending order.
func (p *Pipeline) processTiles(ctx context.Context, img *models.Image, g *grid.Grid) (map[int]*models.LabelMap, []int, error) {
	numWorkers := p.params.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan grid.TileSpec, len(g.Tiles))
	// Full capacity so workers never block on a departed collector.
	results := make(chan tileResult, len(g.Tiles))

	for w := 0; w < numWorkers; w++ {
		go func() {
			for spec := range jobs {
				if ctx.Err() != nil {
					results <- tileResult{tileID: spec.ID, err: ctx.Err()}
					continue
				}
				results <- p.processTile(img, spec)
			}
		}()
	}

	for _, spec := range g.Tiles {
		jobs <- spec
	}
	close(jobs)

	maps := make(map[int]*models.LabelMap, len(g.Tiles))
	var failed []int
	var failures []tileResult
	for completed := 0; completed < len(g.Tiles); completed++ {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: cancelled after %d of %d tiles: %v",
				ErrIncompleteTileSet, completed, len(g.Tiles), ctx.Err())
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: cancelled after %d of %d tiles: %v",
				ErrIncompleteTileSet, completed, len(g.Tiles), ctx.Err())
		case res := <-results:
			if res.err != nil {
				failed = append(failed, res.tileID)
				failures = append(failures, res)
			} else {
				maps[res.tileID] = res.labels
			}
		}
		if p.params.Verbose {
			progress := float64(completed+1) / float64(len(g.Tiles)) * 100
			fmt.Printf("\rSegmenting tiles: %.1f%% complete", progress)
		}
	}
	if p.params.Verbose {
		fmt.Println()
	}

	sort.Ints(failed)
	for _, res := range failures {
		p.logf("Warning: tile %d failed: %v\n", res.tileID, res.err)
	}
	return maps, failed, nil
}

// processTile extracts one tile, runs the segmentation function with the
// configured timeout, and validates the output shape. Any failure becomes a
// per-tile result; nothing here aborts the run.
func (p *Pipeline) processTile(img *models.Image, spec grid.TileSpec) tileResult {
	tile, err := grid.Extract(img, spec)
	if err != nil {
		return tileResult{tileID: spec.ID, err: err}
	}

	labels, err := p.segmentWithTimeout(tile.Image)
	if err != nil {
		return tileResult{tileID: spec.ID, err: err}
	}
	if labels == nil {
		return tileResult{tileID: spec.ID, err: fmt.Errorf("segmentation returned no label map")}
	}
	if labels.Width != spec.Full.Width || labels.Height != spec.Full.Height {
		return tileResult{tileID: spec.ID, err: fmt.Errorf("segmentation returned %dx%d labels for %dx%d tile",
			labels.Width, labels.Height, spec.Full.Width, spec.Full.Height)}
	}
	return tileResult{tileID: spec.ID, labels: labels}
}

// segmentWithTimeout invokes the segmentation function, converting an
// overrun of TileTimeout into an error. The overrunning call is abandoned,
// not interrupted; its goroutine exits when the call returns.
func (p *Pipeline) segmentWithTimeout(img *models.Image) (*models.LabelMap, error) {
	if p.params.TileTimeout <= 0 {
		return p.segment(img)
	}

	type outcome struct {
		labels *models.LabelMap
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		labels, err := p.segment(img)
		done <- outcome{labels: labels, err: err}
	}()

	timer := time.NewTimer(p.params.TileTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.labels, out.err
	case <-timer.C:
		return nil, fmt.Errorf("segmentation timed out after %v", p.params.TileTimeout)
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.params.Verbose {
		fmt.Printf(format, args...)
	}
}
