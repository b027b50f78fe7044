package processor

import (
	"math"
	"time"
)

type EventKind string

const (
	KindCodeFound          EventKind = "code_found"
	KindIngestionDegraded  EventKind = "ingestion_degraded"
	KindIngestionRecovered EventKind = "ingestion_recovered"
)

// Event is a notification payload. It is implemented only by CodeFound,
// IngestionDegraded and IngestionRecovered.
type Event interface {
	Kind() EventKind
	event()
}

type CodeFound struct {
	Code      string
	Sender    string
	Timestamp string
	Subject   string
	MessageID string
}

func (CodeFound) Kind() EventKind { return KindCodeFound }
func (CodeFound) event()          {}

type IngestionDegraded struct {
	Error string
	Since time.Time
}

func (IngestionDegraded) Kind() EventKind { return KindIngestionDegraded }
func (IngestionDegraded) event()          {}

type IngestionRecovered struct {
	Since        time.Time
	RecoveredAt  time.Time
	DownDuration time.Duration
}

func (IngestionRecovered) Kind() EventKind { return KindIngestionRecovered }
func (IngestionRecovered) event()          {}

// DownDurationSeconds returns the outage length rounded to whole seconds.
func (r IngestionRecovered) DownDurationSeconds() int64 {
	return int64(math.Round(r.DownDuration.Seconds()))
}
