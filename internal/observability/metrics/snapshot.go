package metrics

import (
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is a JSON-friendly view of the booking metrics for the stats route.
type Snapshot struct {
	Requests    map[string]map[string]int64 `json:"requests"`
	MirrorTasks map[string]map[string]int64 `json:"mirror_tasks"`
	LockWait    LockWaitSnapshot            `json:"lock_wait"`
}

type LockWaitSnapshot struct {
	Total int64   `json:"total"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// TakeSnapshot reads the current booking metric values from gatherer.
func TakeSnapshot(gatherer prometheus.Gatherer) Snapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	snap := Snapshot{
		Requests:    map[string]map[string]int64{},
		MirrorTasks: map[string]map[string]int64{},
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "clinic_booking_requests_total":
			collectCounters(mf, "op", "result", snap.Requests)
		case "clinic_booking_mirror_tasks_total":
			collectCounters(mf, "task", "status", snap.MirrorTasks)
		case "clinic_booking_lock_wait_seconds":
			snap.LockWait = lockWait(mf)
		}
	}
	return snap
}

func collectCounters(mf *dto.MetricFamily, outer, inner string, into map[string]map[string]int64) {
	for _, metric := range mf.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		o, i := labelValue(metric, outer), labelValue(metric, inner)
		if into[o] == nil {
			into[o] = map[string]int64{}
		}
		into[o][i] += int64(metric.GetCounter().GetValue())
	}
}

func lockWait(mf *dto.MetricFamily) LockWaitSnapshot {
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64
	for _, metric := range mf.Metric {
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		sampleCount += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b == nil {
				continue
			}
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return LockWaitSnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	return LockWaitSnapshot{
		Total: int64(sampleCount),
		P50Ms: histogramQuantile(0.50, sampleCount, uppers, cumulativeByUpper) * 1000.0,
		P95Ms: histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper) * 1000.0,
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	target := q * float64(total)
	var prevUpper, prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}
		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}
		fraction := math.Min(math.Max((target-prevCum)/bucketCount, 0), 1)
		return prevUpper + fraction*(upper-prevUpper)
	}
	return uppers[len(uppers)-1]
}
