package metrics

import (
	"time"

	"github.com/memophor/scedge/types"
)

type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) RecordHit()                          {}
func (Noop) RecordMiss()                         {}
func (Noop) RecordStore()                        {}
func (Noop) RecordPurge(int)                     {}
func (Noop) RecordExpired(int)                   {}
func (Noop) SetCacheSize(int)                    {}
func (Noop) RecordRequest(string, time.Duration) {}
func (Noop) RecordUpstreamRequest()              {}
func (Noop) RecordUpstreamFailure()              {}
func (Noop) RecordUpstreamLatency(time.Duration) {}

var _ types.MetricsRecorder = Noop{}
