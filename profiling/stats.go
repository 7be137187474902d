// Package profiling 统计多帧推理的分阶段耗时, 并记录为 CSV
package profiling

import (
	"github.com/getcharzp/go-pose/rtmpose"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"sort"
	"time"
)

// 统计的阶段, 顺序即输出顺序
var fields = []string{"total", "preprocess", "prep", "model", "postprocess"}

// Fields 返回参与统计的阶段名称
func Fields() []string {
	return append([]string(nil), fields...)
}

// Summary 单个阶段的统计结果
type Summary struct {
	Count  int
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
}

// Stats 多帧耗时统计
//
// 前 Warmup 帧不参与统计 (首帧通常包含模型预热).
type Stats struct {
	Warmup int

	seen    int
	samples map[string][]float64 // 毫秒
}

// NewStats 创建统计, warmup 为跳过的帧数
func NewStats(warmup int) *Stats {
	return &Stats{Warmup: warmup, samples: make(map[string][]float64, len(fields))}
}

// Add 记录一帧的耗时, 空帧 (没有检测框) 不计入
func (s *Stats) Add(t rtmpose.Timing) {
	if t.NumBoxes == 0 {
		return
	}
	s.seen++
	if s.seen <= s.Warmup {
		return
	}
	for i, d := range timingValues(t) {
		s.samples[fields[i]] = append(s.samples[fields[i]], toMillis(d))
	}
}

// Count 已参与统计的帧数
func (s *Stats) Count() int {
	return len(s.samples["total"])
}

// Summary 返回某个阶段的统计结果, 没有样本时为零值
func (s *Stats) Summary(field string) Summary {
	values := s.samples[field]
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return Summary{
		Count:  len(sorted),
		Min:    fromMillis(floats.Min(sorted)),
		Max:    fromMillis(floats.Max(sorted)),
		Mean:   fromMillis(stat.Mean(sorted, nil)),
		Median: fromMillis(median(sorted)),
		P95:    fromMillis(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
	}
}

// Summaries 返回所有阶段的统计结果, 阶段顺序见 Fields
func (s *Stats) Summaries() map[string]Summary {
	out := make(map[string]Summary, len(fields))
	for _, f := range fields {
		out[f] = s.Summary(f)
	}
	return out
}

// Log 输出统计结果
func (s *Stats) Log(log logrus.FieldLogger) {
	for _, f := range fields {
		sum := s.Summary(f)
		log.WithFields(logrus.Fields{
			"stage":  f,
			"count":  sum.Count,
			"min":    sum.Min,
			"max":    sum.Max,
			"mean":   sum.Mean,
			"median": sum.Median,
			"p95":    sum.P95,
		}).Info("耗时统计")
	}
}

// median 偶数个样本时取中间两个的平均值
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func timingValues(t rtmpose.Timing) []time.Duration {
	return []time.Duration{t.Total, t.Preprocess, t.Prep, t.Model, t.Postprocess}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
