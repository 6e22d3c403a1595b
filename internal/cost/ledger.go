package cost

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

// Sink receives flushed cost entries at pipeline commit points.
type Sink interface {
	AppendCostEntry(ctx context.Context, entry model.CostEntry) error
}

// microsPerDollar fixes the ledger's internal resolution. Accumulating in
// integer micro-dollars keeps long sessions free of float drift; values are
// converted back to dollars only at read time.
const microsPerDollar = 1_000_000

// entry is one tracked usage line, amounts in micro-dollars.
type entry struct {
	service    string
	requests   int
	unitMicros int64
	totalMicros int64
	recordedAt time.Time
}

// session accumulates entries for one correlation id.
type session struct {
	entries []entry
	flushed int // count of entries already flushed to the sink
	settled int // count of entries already folded into the query record
}

// Ledger accumulates per-correlation API spend in memory. It is safe for
// concurrent append from multiple stages of the same query; cross-process
// durability is the sink's job.
type Ledger struct {
	mu       sync.Mutex
	sessions map[string]*session

	nowFunc func() time.Time
}

// NewLedger creates an empty cost ledger.
func NewLedger() *Ledger {
	return &Ledger{
		sessions: make(map[string]*session),
		nowFunc:  time.Now,
	}
}

// Track records count requests against service at unitCost dollars each,
// attributed to correlationID. Returns the running total for that
// correlation id in dollars, rounded to 4 decimals.
func (l *Ledger) Track(service string, count int, unitCost float64, correlationID string) float64 {
	unitMicros := int64(math.Round(unitCost * microsPerDollar))

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sessions[correlationID]
	if s == nil {
		s = &session{}
		l.sessions[correlationID] = s
	}
	s.entries = append(s.entries, entry{
		service:     service,
		requests:    count,
		unitMicros:  unitMicros,
		totalMicros: unitMicros * int64(count),
		recordedAt:  l.nowFunc(),
	})

	total := sessionTotal(s)
	zap.L().Debug("cost tracked",
		zap.String("service", service),
		zap.Int("requests", count),
		zap.String("correlation_id", correlationID),
		zap.Float64("session_total", total),
	)
	return total
}

// Total returns the accumulated spend for correlationID in dollars,
// rounded to 4 decimals.
func (l *Ledger) Total(correlationID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.sessions[correlationID]
	if s == nil {
		return 0
	}
	return sessionTotal(s)
}

// Breakdown aggregates the session's entries per service.
func (l *Ledger) Breakdown(correlationID string) map[string]model.ServiceCost {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sessions[correlationID]
	if s == nil {
		return map[string]model.ServiceCost{}
	}

	micros := make(map[string]int64)
	requests := make(map[string]int)
	for _, e := range s.entries {
		micros[e.service] += e.totalMicros
		requests[e.service] += e.requests
	}

	out := make(map[string]model.ServiceCost, len(micros))
	for svc, m := range micros {
		out[svc] = model.ServiceCost{
			Requests: requests[svc],
			Cost:     round4(float64(m) / microsPerDollar),
		}
	}
	return out
}

// Settle returns the total and per-service breakdown of entries not yet
// folded into the query record and marks them folded, so a commit point
// that fails partway (an incomplete flush, say) never counts the same
// entry twice at the next one.
func (l *Ledger) Settle(correlationID string) (float64, map[string]model.ServiceCost) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sessions[correlationID]
	if s == nil {
		return 0, map[string]model.ServiceCost{}
	}

	micros := make(map[string]int64)
	requests := make(map[string]int)
	var totalMicros int64
	for _, e := range s.entries[s.settled:] {
		micros[e.service] += e.totalMicros
		requests[e.service] += e.requests
		totalMicros += e.totalMicros
	}
	s.settled = len(s.entries)

	out := make(map[string]model.ServiceCost, len(micros))
	for svc, m := range micros {
		out[svc] = model.ServiceCost{
			Requests: requests[svc],
			Cost:     round4(float64(m) / microsPerDollar),
		}
	}
	return round4(float64(totalMicros) / microsPerDollar), out
}

// Flush writes entries not yet persisted for correlationID to the sink.
// Called at commit points (preview complete, enrichment complete). A sink
// failure leaves the unflushed entries queued for the next commit point.
func (l *Ledger) Flush(ctx context.Context, correlationID string, sink Sink) error {
	l.mu.Lock()
	s := l.sessions[correlationID]
	var pending []entry
	var offset int
	if s != nil {
		offset = s.flushed
		pending = append(pending, s.entries[s.flushed:]...)
	}
	l.mu.Unlock()

	for i, e := range pending {
		err := sink.AppendCostEntry(ctx, model.CostEntry{
			ID:            uuid.NewString(),
			Service:       e.service,
			Requests:      e.requests,
			UnitCost:      round4(float64(e.unitMicros) / microsPerDollar),
			TotalCost:     round4(float64(e.totalMicros) / microsPerDollar),
			CorrelationID: correlationID,
			RecordedAt:    e.recordedAt,
		})
		if err != nil {
			l.markFlushed(correlationID, offset+i)
			return eris.Wrapf(err, "cost: flush entry for %s", e.service)
		}
	}
	l.markFlushed(correlationID, offset+len(pending))
	return nil
}

// Clear drops the in-memory session for correlationID.
func (l *Ledger) Clear(correlationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, correlationID)
}

func (l *Ledger) markFlushed(correlationID string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.sessions[correlationID]; s != nil && n > s.flushed {
		s.flushed = n
	}
}

func sessionTotal(s *session) float64 {
	var micros int64
	for _, e := range s.entries {
		micros += e.totalMicros
	}
	return round4(float64(micros) / microsPerDollar)
}

// round4 rounds to 4 decimal places, the ledger's read-time precision.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
