package sandbox

import (
	"runtime"
	"runtime/metrics"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// MemorySampler reports heap occupancy. Collect forces a collection so the
// next reading excludes garbage.
type MemorySampler interface {
	HeapBytes() uint64
	Collect()
}

// runtimeSampler reads the Go runtime's heap metrics. Readings are
// process-wide: in process isolation mode that is exactly one invocation,
// and in-process hosts must run one invocation at a time.
type runtimeSampler struct {
	samples []metrics.Sample
}

func newRuntimeSampler() MemorySampler {
	return &runtimeSampler{samples: []metrics.Sample{{Name: heapObjectsMetric}}}
}

func (s *runtimeSampler) HeapBytes() uint64 {
	metrics.Read(s.samples)
	if s.samples[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.samples[0].Value.Uint64()
}

func (s *runtimeSampler) Collect() {
	runtime.GC()
}
