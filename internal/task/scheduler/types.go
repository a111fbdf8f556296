package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	logx "timerbox/pkg/logx"
)

// MinEvery is the shortest period of a repeating trigger. Shorter periods
// (including 0) are raised to it so a trigger cannot spin the cron loop.
const MinEvery = time.Millisecond

// Kind of a registered trigger.
type Kind string

const (
	KindEvery Kind = "every"
	KindOnce  Kind = "once"
)

// everySchedule is a cron.Schedule with sub-second resolution.
// cron.Every rounds to whole seconds, which is too coarse for millisecond delays.
type everySchedule struct {
	every time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time { return t.Add(s.every) }

type onceDef struct {
	name  string
	due   time.Time
	timer *time.Timer
}

type everyDef struct {
	name    string
	every   time.Duration
	entryID cron.EntryID
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	c       *cron.Cron
	running bool

	seq atomic.Uint64

	// guarded by mu
	every map[uint64]everyDef

	tmu  sync.Mutex
	once map[uint64]*onceDef
}

// TriggerInfo describes a live trigger.
type TriggerInfo struct {
	ID    uint64
	Name  string
	Kind  Kind
	Every time.Duration
	Next  time.Time
}

type Snapshot struct {
	Running  bool
	Triggers []TriggerInfo
}
