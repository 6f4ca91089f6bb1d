package sync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Outcome is what a walk decided for one entry.
type Outcome int

const (
	// OutcomeCreated is a directory created on the destination.
	OutcomeCreated Outcome = iota
	// OutcomeExists is a directory already present on the destination.
	OutcomeExists
	OutcomeSkippedNewerRemote
	OutcomeSkippedNewerLocal
	// OutcomeSkippedIncomplete is a newer destination copy whose size does
	// not match, assumed to be a transfer still in progress elsewhere.
	OutcomeSkippedIncomplete
	OutcomeTransferred
	OutcomeFailed
	// OutcomeIgnored is an entry matched by the ignore list. Ignored
	// directories are not descended into.
	OutcomeIgnored
)

var outcomeNames = [...]string{
	OutcomeCreated:            "created",
	OutcomeExists:             "exists",
	OutcomeSkippedNewerRemote: "skipped-newer-remote",
	OutcomeSkippedNewerLocal:  "skipped-newer-local",
	OutcomeSkippedIncomplete:  "skipped-incomplete",
	OutcomeTransferred:        "transferred",
	OutcomeFailed:             "failed",
	OutcomeIgnored:            "ignored",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Result is the outcome of one entry. Path is relative to the walk root,
// slash separated.
type Result struct {
	Path    string
	Outcome Outcome
	Bytes   int64
	Reason  string
	Err     error
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeTransferred:
		return fmt.Sprintf("%s %s (%s)", r.Outcome, r.Path, humanize.IBytes(uint64(r.Bytes)))
	case OutcomeFailed:
		return fmt.Sprintf("%s %s: %v", r.Outcome, r.Path, r.Err)
	}
	if r.Reason != "" {
		return fmt.Sprintf("%s %s: %s", r.Outcome, r.Path, r.Reason)
	}
	return fmt.Sprintf("%s %s", r.Outcome, r.Path)
}

// Reporter receives every result as it is decided. It may be called from
// several goroutines at once.
type Reporter func(Result)

// Report collects the results of one walk. It is safe for concurrent use.
type Report struct {
	Direction Direction
	Started   time.Time
	Elapsed   time.Duration

	mu      sync.Mutex
	results []Result
	counts  map[Outcome]int
	bytes   int64
}

func newReport(dir Direction) *Report {
	return &Report{
		Direction: dir,
		Started:   time.Now(),
		counts:    make(map[Outcome]int),
	}
}

func (r *Report) add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	r.counts[res.Outcome]++
	if res.Outcome == OutcomeTransferred {
		r.bytes += res.Bytes
	}
}

func (r *Report) finish() {
	r.mu.Lock()
	r.Elapsed = time.Since(r.Started)
	r.mu.Unlock()
}

func (r *Report) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[o]
}

func (r *Report) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

func (r *Report) Ignored() int {
	return r.Count(OutcomeIgnored)
}

// Results returns all results ordered by path.
func (r *Report) Results() []Result {
	r.mu.Lock()
	out := append([]Result(nil), r.results...)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Lookup returns the result recorded for path.
func (r *Report) Lookup(path string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Path == path {
			return res, true
		}
	}
	return Result{}, false
}

func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var parts []string
	for o := OutcomeCreated; o <= OutcomeIgnored; o++ {
		if n := r.counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}

	return fmt.Sprintf("%s: %s, %s in %s", r.Direction, strings.Join(parts, ", "),
		humanize.IBytes(uint64(r.bytes)), r.Elapsed.Round(time.Millisecond))
}
