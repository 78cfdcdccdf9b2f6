// Package replay recomputes box outcomes across nonce ranges from a
// revealed seed pair. Anyone holding the revealed server seed, the client
// seed, and the item table can re-derive every outcome the operator
// reported and audit its distribution against the published odds.
package replay

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/engine"
)

var (
	ErrInvalidRange  = errors.New("replay: nonce_end must be >= nonce_start")
	ErrRangeTooLarge = errors.New("replay: nonce range exceeds the scan cap")
)

// MaxRangeSize caps a single scan. Larger audits page through the range.
const MaxRangeSize = 10_000_000

// TargetOp selects which recomputed outcomes count as hits.
type TargetOp string

const (
	OpAny        TargetOp = ""      // every outcome is a hit
	OpItem       TargetOp = "item"  // outcome landed on TargetItemID
	OpValueAbove TargetOp = "value" // random value >= TargetValue
)

// Request describes one verification scan.
type Request struct {
	Seeds      engine.Seeds `json:"seeds"`
	Items      []box.Item   `json:"items"`
	NonceStart uint64       `json:"nonce_start"`
	NonceEnd   uint64       `json:"nonce_end"`

	TargetOp     TargetOp `json:"target_op,omitempty"`
	TargetItemID string   `json:"target_item_id,omitempty"`
	TargetValue  float64  `json:"target_value,omitempty"`

	Limit     int `json:"limit,omitempty"`      // 0 = collect all hits
	TimeoutMs int `json:"timeout_ms,omitempty"` // 0 = no deadline
}

// Hit is one recomputed outcome matching the target.
type Hit struct {
	Nonce       uint64  `json:"nonce"`
	ItemID      string  `json:"item_id"`
	RandomValue float64 `json:"random_value"`
	Digest      string  `json:"digest"`
}

// ItemCount is the observed frequency of one item over the scanned range,
// alongside its expected share from the authored odds.
type ItemCount struct {
	ItemID        string  `json:"item_id"`
	Count         uint64  `json:"count"`
	ObservedShare float64 `json:"observed_share"`
	ExpectedShare float64 `json:"expected_share"`
}

// Summary aggregates the scan.
type Summary struct {
	TotalEvaluated uint64 `json:"total_evaluated"`
	HitsFound      int    `json:"hits_found"`
	TimedOut       bool   `json:"timed_out,omitempty"`
}

// Result is the complete output of a scan.
type Result struct {
	Hits         []Hit       `json:"hits"`
	Distribution []ItemCount `json:"distribution"`
	Summary      Summary     `json:"summary"`
	Echo         Request     `json:"echo"`
}

// Verifier runs parallel recomputation scans. Safe for concurrent use.
type Verifier struct {
	workerCount int
}

func NewVerifier() *Verifier {
	return &Verifier{workerCount: runtime.GOMAXPROCS(0)}
}

// job is a contiguous nonce batch handed to one worker.
type job struct {
	start, end uint64
}

const batchSize = 8192

// Scan recomputes every nonce in [NonceStart, NonceEnd] and collects hits
// plus the per-item distribution. Workers each own a private tally that is
// merged once at the end, so the hot loop touches no shared state beyond
// the evaluated counter and the hit channel.
func (v *Verifier) Scan(ctx context.Context, req Request) (*Result, error) {
	if req.NonceEnd < req.NonceStart {
		return nil, ErrInvalidRange
	}
	if req.NonceEnd-req.NonceStart+1 > MaxRangeSize {
		return nil, ErrRangeTooLarge
	}
	if len(req.Items) == 0 {
		return nil, box.ErrEmptyItemList
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	jobs := make(chan job, v.workerCount*2)
	hits := make(chan Hit, 1024)

	var evaluated uint64
	var wg sync.WaitGroup

	tallies := make([]map[string]uint64, v.workerCount)
	for i := 0; i < v.workerCount; i++ {
		tally := make(map[string]uint64, len(req.Items))
		tallies[i] = tally
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, req, jobs, hits, tally, &evaluated)
		}()
	}

	go func() {
		defer close(jobs)
		for current := req.NonceStart; ; {
			end := current + batchSize - 1
			if end > req.NonceEnd || end < current {
				end = req.NonceEnd
			}
			select {
			case jobs <- job{start: current, end: end}:
			case <-ctx.Done():
				return
			}
			if end == req.NonceEnd {
				return
			}
			current = end + 1
		}
	}()

	// collect returns only after every worker has exited, so the
	// worker-local tallies are quiescent by the time they merge.
	result := collect(ctx, hits, &wg, req.Limit)
	if ctx.Err() != nil {
		result.Summary.TimedOut = true
	}

	result.Distribution = mergeTallies(req.Items, tallies, atomic.LoadUint64(&evaluated))
	result.Summary.TotalEvaluated = atomic.LoadUint64(&evaluated)
	result.Echo = req
	return result, nil
}

func runWorker(ctx context.Context, req Request, jobs <-chan job, hits chan<- Hit, tally map[string]uint64, evaluated *uint64) {
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			for nonce := j.start; nonce <= j.end; nonce++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				out, err := box.Open(req.Items, req.Seeds, nonce)
				if err != nil {
					continue
				}
				atomic.AddUint64(evaluated, 1)
				tally[out.Item.ID]++

				if !matches(req, out) {
					continue
				}
				hit := Hit{Nonce: nonce, ItemID: out.Item.ID, RandomValue: out.RandomValue, Digest: out.Digest}
				select {
				case hits <- hit:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func matches(req Request, out box.Outcome) bool {
	switch req.TargetOp {
	case OpItem:
		return out.Item.ID == req.TargetItemID
	case OpValueAbove:
		return out.RandomValue >= req.TargetValue
	default:
		return true
	}
}

// collect drains hits until the workers finish or the context expires.
// Hits arrive out of nonce order from the parallel workers and are sorted
// once at the end.
func collect(ctx context.Context, hits <-chan Hit, wg *sync.WaitGroup, limit int) *Result {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collected := make([]Hit, 0, 256)
	limited := func() bool { return limit > 0 && len(collected) >= limit }
	timedOut := false

	for {
		select {
		case hit := <-hits:
			if !limited() {
				collected = append(collected, hit)
			}
		case <-ctx.Done():
			timedOut = true
			<-done
			goto drain
		case <-done:
			goto drain
		}
	}

drain:
	for {
		select {
		case hit := <-hits:
			if !limited() {
				collected = append(collected, hit)
			}
		default:
			sort.Slice(collected, func(i, j int) bool { return collected[i].Nonce < collected[j].Nonce })
			if limit > 0 && len(collected) > limit {
				collected = collected[:limit]
			}
			return &Result{
				Hits:    collected,
				Summary: Summary{HitsFound: len(collected), TimedOut: timedOut},
			}
		}
	}
}

// mergeTallies folds the worker-local tallies into one distribution table
// in item-table order, with expected shares from the normalized odds.
func mergeTallies(items []box.Item, tallies []map[string]uint64, evaluated uint64) []ItemCount {
	totalOdds := 0.0
	for _, it := range items {
		totalOdds += it.Odds
	}

	out := make([]ItemCount, 0, len(items))
	for _, it := range items {
		var count uint64
		for _, tally := range tallies {
			count += tally[it.ID]
		}
		ic := ItemCount{ItemID: it.ID, Count: count}
		if evaluated > 0 {
			ic.ObservedShare = float64(count) / float64(evaluated)
		}
		if totalOdds > 0 {
			ic.ExpectedShare = it.Odds / totalOdds
		}
		out = append(out, ic)
	}
	return out
}
