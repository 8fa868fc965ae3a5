// Package visitor keeps the set of known visitors for one tracking session,
// resolves freshly detected faces to visitors, and tracks how long each
// visitor has been continuously present.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrOracle wraps any failure returned by the similarity oracle.
var ErrOracle = errors.New("visitor: similarity oracle failed")

// SimilarityOracle returns previously seen face ids, taken from candidates,
// that are believed to depict the same person as faceID. All returned ids
// are treated as equally confident.
type SimilarityOracle interface {
	FindSimilar(ctx context.Context, faceID string, candidates []string, maxResults int) ([]string, error)
}

// Config tunes identity resolution and staleness.
type Config struct {
	ComparisonCap     int           // sightings per visitor fed back to the oracle
	MaxCandidates     int           // max results requested per oracle query
	StaleAfter        time.Duration // absence after which a running dwell timer resets
	OracleConcurrency int           // parallel oracle queries per cycle
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		ComparisonCap:     3,
		MaxCandidates:     10,
		StaleAfter:        3 * time.Second,
		OracleConcurrency: 1,
	}
}

// Visitor is a read-only snapshot of a visitor record.
type Visitor struct {
	ID           int
	FaceIDs      []string
	LastSeen     time.Time
	Running      bool
	DwellSeconds float64
}

type record struct {
	id       int
	faceIDs  []string
	lastSeen time.Time
	dwell    Stopwatch
}

// see records a sighting at now. Frames handled out of capture order never
// move lastSeen backwards.
func (v *record) see(now time.Time) {
	if now.After(v.lastSeen) {
		v.lastSeen = now
	}
}

// Resolution is the outcome of resolving one cycle's faces.
type Resolution struct {
	Assignments map[string]int // face id -> visitor id
	Created     []int          // visitors created this cycle, in creation order
	Active      int            // visitor of the last processed face, 0 if none
}

// VisitorIDs returns the distinct visitor ids in the resolution, in the order
// their faces were processed.
func (r Resolution) VisitorIDs(faceIDs []string) []int {
	seen := make(map[int]bool, len(r.Assignments))
	ids := make([]int, 0, len(r.Assignments))
	for _, f := range faceIDs {
		id, ok := r.Assignments[f]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Registry owns every visitor of one tracking session. Visitors are never
// removed; ids are dense, start at 1 and follow creation order.
type Registry struct {
	mu       sync.Mutex
	oracle   SimilarityOracle
	cfg      Config
	visitors []*record      // visitors[i].id == i+1
	owners   map[string]int // face id -> visitor id
	detected []string       // face ids submitted while no visitor exists
	active   int
}

// NewRegistry returns an empty registry backed by oracle.
func NewRegistry(oracle SimilarityOracle, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.ComparisonCap <= 0 {
		cfg.ComparisonCap = def.ComparisonCap
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.OracleConcurrency <= 0 {
		cfg.OracleConcurrency = def.OracleConcurrency
	}
	return &Registry{
		oracle: oracle,
		cfg:    cfg,
		owners: make(map[string]int),
	}
}

// Resolve assigns every face id of the current cycle to a visitor, creating
// visitors for faces the oracle does not link to anyone known.
//
// All oracle queries are issued before any visitor is touched. If any of
// them fails the whole cycle is abandoned, no visitor is created or updated,
// and the returned error wraps ErrOracle.
func (r *Registry) Resolve(ctx context.Context, now time.Time, faceIDs []string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Resolution{Assignments: make(map[string]int, len(faceIDs))}
	if len(faceIDs) == 0 {
		return res, nil
	}

	comparison := r.comparisonSet(faceIDs)
	// Detection history only feeds the comparison set while no visitor
	// exists. It is kept across oracle failures.
	if len(r.visitors) == 0 {
		r.detected = append(r.detected, faceIDs...)
	}

	candidates, err := r.query(ctx, faceIDs, comparison)
	if err != nil {
		return Resolution{}, err
	}

	for i, faceID := range faceIDs {
		var id int
		if owner, ok := r.owners[faceID]; ok {
			id = owner
			r.visitors[id-1].see(now)
		} else if id = r.match(candidates[i]); id != 0 {
			r.merge(id, faceID, now)
		} else {
			id = r.create(faceID, now)
			res.Created = append(res.Created, id)
		}
		res.Assignments[faceID] = id
		res.Active = id
	}
	r.active = res.Active
	if len(r.visitors) > 0 {
		r.detected = nil
	}

	return res, nil
}

// comparisonSet builds the face ids each query is compared against: every
// face seen so far while nobody is registered, otherwise the oldest
// ComparisonCap sightings of each visitor.
func (r *Registry) comparisonSet(current []string) []string {
	if len(r.visitors) == 0 {
		set := make([]string, 0, len(r.detected)+len(current))
		set = append(set, r.detected...)
		return append(set, current...)
	}

	return r.anchors()
}

// anchors returns the oldest ComparisonCap sightings of every visitor.
func (r *Registry) anchors() []string {
	set := make([]string, 0, len(r.visitors)*r.cfg.ComparisonCap)
	for _, v := range r.visitors {
		n := min(len(v.faceIDs), r.cfg.ComparisonCap)
		set = append(set, v.faceIDs[:n]...)
	}
	return set
}

// AnchorFaces returns the face ids future resolutions compare against once
// visitors exist. Similarity backends must keep these samples for as long as
// the registry lives.
func (r *Registry) AnchorFaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anchors()
}

// query runs one oracle lookup per face that is not already owned.
func (r *Registry) query(ctx context.Context, faceIDs, comparison []string) ([][]string, error) {
	results := make([][]string, len(faceIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.OracleConcurrency)
	for i, faceID := range faceIDs {
		if _, owned := r.owners[faceID]; owned {
			continue
		}
		i, faceID := i, faceID
		g.Go(func() error {
			found, err := r.oracle.FindSimilar(gctx, faceID, comparison, r.cfg.MaxCandidates)
			if err != nil {
				return fmt.Errorf("%w: face %s: %w", ErrOracle, faceID, err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// match picks the visitor owning the most candidate ids. Ties go to the
// earliest-created visitor. It returns 0 when no candidate has an owner.
func (r *Registry) match(candidates []string) int {
	if len(candidates) == 0 {
		return 0
	}

	counts := make(map[int]int)
	for _, c := range candidates {
		if owner, ok := r.owners[c]; ok {
			counts[owner]++
		}
	}

	best, bestCount := 0, 0
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id < best) {
			best, bestCount = id, n
		}
	}
	return best
}

func (r *Registry) merge(id int, faceID string, now time.Time) {
	v := r.visitors[id-1]
	if _, ok := r.owners[faceID]; !ok {
		v.faceIDs = append(v.faceIDs, faceID)
		r.owners[faceID] = id
	}
	v.see(now)
}

func (r *Registry) create(faceID string, now time.Time) int {
	v := &record{
		id:       len(r.visitors) + 1,
		faceIDs:  []string{faceID},
		lastSeen: now,
	}
	r.visitors = append(r.visitors, v)
	r.owners[faceID] = v.id
	return v.id
}

// ExpireStale resets the dwell timer of every running visitor not seen for
// longer than StaleAfter. It returns the ids that were reset.
func (r *Registry) ExpireStale(now time.Time) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset []int
	for _, v := range r.visitors {
		if v.dwell.Running() && now.Sub(v.lastSeen) > r.cfg.StaleAfter {
			v.dwell.Reset()
			reset = append(reset, v.id)
		}
	}
	return reset
}

// StartDwell starts the dwell timer of each listed visitor that is idle.
// Running timers keep accumulating.
func (r *Registry) StartDwell(now time.Time, ids ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		r.mustGet(id).dwell.Start(now)
	}
}

// DwellSeconds returns the visitor's current dwell time. Asking for an id the
// registry never issued is a programming error and panics.
func (r *Registry) DwellSeconds(id int, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mustGet(id).dwell.Elapsed(now).Seconds()
}

// OwnerOf returns the visitor owning faceID.
func (r *Registry) OwnerOf(faceID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.owners[faceID]
	return id, ok
}

// Visitor returns a snapshot of one visitor.
func (r *Registry) Visitor(id int, now time.Time) (Visitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 1 || id > len(r.visitors) {
		return Visitor{}, false
	}
	return snapshot(r.visitors[id-1], now), true
}

// Snapshot returns every visitor in creation order.
func (r *Registry) Snapshot(now time.Time) []Visitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Visitor, 0, len(r.visitors))
	for _, v := range r.visitors {
		out = append(out, snapshot(v, now))
	}
	return out
}

// Len returns the number of visitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// CountRunning returns how many visitors have a running dwell timer.
func (r *Registry) CountRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, v := range r.visitors {
		if v.dwell.Running() {
			n++
		}
	}
	return n
}

// Active returns the visitor assigned last by the most recent successful
// resolution, or 0.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) mustGet(id int) *record {
	if id < 1 || id > len(r.visitors) {
		panic(fmt.Sprintf("visitor: unknown visitor id %d (registry has %d)", id, len(r.visitors)))
	}
	return r.visitors[id-1]
}

func snapshot(v *record, now time.Time) Visitor {
	faces := make([]string, len(v.faceIDs))
	copy(faces, v.faceIDs)
	return Visitor{
		ID:           v.id,
		FaceIDs:      faces,
		LastSeen:     v.lastSeen,
		Running:      v.dwell.Running(),
		DwellSeconds: v.dwell.Elapsed(now).Seconds(),
	}
}
