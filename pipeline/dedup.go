package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"siemfusion/core"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// openAlert is a dedup index entry for an alert still accepting merges.
type openAlert struct {
	alert      *core.Alert
	indicators map[string]struct{}
}

// Deduper decides whether a new alert duplicates an open one. Two alerts
// merge when their indicator sets overlap above the configured Jaccard
// threshold inside the merge window. The check-then-merge-or-create
// read-modify-write runs under one mutex so concurrently processed
// correlated events cannot create duplicate alerts.
type Deduper struct {
	mu      sync.Mutex
	index   *expirable.LRU[string, *openAlert]
	overlap float64
}

// NewDeduper creates a dedup index holding at most size open alerts, each
// expiring window after its last merge.
func NewDeduper(size int, window time.Duration, overlap float64) *Deduper {
	if size < 1 {
		size = 1024
	}
	return &Deduper{
		index:   expirable.NewLRU[string, *openAlert](size, nil, window),
		overlap: overlap,
	}
}

// MergeOrCreate either folds alert into an overlapping open alert and
// returns (that alert, true), or registers alert as a new open alert and
// returns (alert, false).
func (d *Deduper) MergeOrCreate(alert *core.Alert) (*core.Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	incoming := indicatorSet(alert.Indicators)
	if len(incoming) > 0 {
		for _, key := range d.index.Keys() {
			open, ok := d.index.Get(key)
			if !ok {
				continue
			}
			if jaccard(incoming, open.indicators) >= d.overlap {
				open.alert.AbsorbEvent(alert)
				for ind := range incoming {
					open.indicators[ind] = struct{}{}
				}
				// Re-insert to refresh the entry's TTL.
				d.index.Add(key, open)
				return open.alert, true
			}
		}
	}

	alert.Fingerprint = Fingerprint(alert)
	d.index.Add(alert.Fingerprint, &openAlert{alert: alert, indicators: incoming})
	return alert, false
}

// OpenCount reports the number of open alerts in the index.
func (d *Deduper) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Len()
}

// Fingerprint derives a stable identity for an alert from its sorted
// indicators, falling back to title plus first source event when an alert
// carries no indicators.
func Fingerprint(alert *core.Alert) string {
	parts := append([]string(nil), alert.Indicators...)
	sort.Strings(parts)
	basis := strings.Join(parts, "|")
	if basis == "" {
		basis = alert.Title
		if len(alert.SourceEventIDs) > 0 {
			basis += "|" + string(alert.SourceEventIDs[0])
		}
	}
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}

func indicatorSet(indicators []string) map[string]struct{} {
	set := make(map[string]struct{}, len(indicators))
	for _, ind := range indicators {
		if ind != "" {
			set[ind] = struct{}{}
		}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b| for two indicator sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
