package breaker

import "time"

type outcome struct {
	at      time.Time
	success bool
}

// history 按时间排序的调用结果，仅用于失败率计算
type history struct {
	entries []outcome
}

// record 追加一条结果并裁剪早于 at-retain 的记录
func (h *history) record(at time.Time, success bool, retain time.Duration) {
	h.entries = append(h.entries, outcome{at: at, success: success})

	cutoff := at.Add(-retain)
	drop := 0
	for drop < len(h.entries) && h.entries[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.entries = append(h.entries[:0], h.entries[drop:]...)
	}
}

// failureRate 计算 [now-period, now] 内的失败率，没有记录时为 0
func (h *history) failureRate(now time.Time, period time.Duration) float64 {
	cutoff := now.Add(-period)
	var total, failures int
	for _, e := range h.entries {
		if e.at.Before(cutoff) {
			continue
		}
		total++
		if !e.success {
			failures++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

func (h *history) len() int {
	return len(h.entries)
}

func (h *history) reset() {
	h.entries = nil
}
