// Package extract turns raw behavioral event batches into fixed-dimensional
// feature vectors.
package extract

import (
	"math"

	"github.com/chanikkyasaai/bridge/pkg/models"
)

// FeatureExtractor maps an event-log batch to a feature vector of a fixed
// dimension. Implementations must be pure and deterministic for a given
// input and must never fail: malformed input yields the zero vector, which
// the pipeline treats as "no usable features".
type FeatureExtractor interface {
	Dimension() int
	Extract(logs []models.EventLog) []float64
}

// Feature layout: one block of summary statistics per behavioral channel.
const (
	statsPerChannel = 5 // mean, std, min, max, share of events
	channelCount    = 18
	featureDim      = channelCount * statsPerChannel
)

// Channel order inside the vector. Each channel owns statsPerChannel slots.
var channels = []string{
	"touch_duration",
	"touch_pressure",
	"touch_area",
	"touch_x",
	"touch_y",
	"inter_event_gap",
	"scroll_velocity",
	"scroll_distance",
	"scroll_duration",
	"swipe_velocity",
	"accel_x",
	"accel_y",
	"accel_z",
	"accel_magnitude",
	"gyro_x",
	"gyro_y",
	"gyro_z",
	"gyro_magnitude",
}

// MobileExtractor extracts the 90-dimensional behavioral vector from mobile
// touch, scroll, swipe and motion events.
type MobileExtractor struct{}

// NewMobileExtractor returns the default extractor for mobile event batches.
func NewMobileExtractor() *MobileExtractor {
	return &MobileExtractor{}
}

// Dimension returns the extractor's fixed output dimension.
func (e *MobileExtractor) Dimension() int { return featureDim }

// Extract computes per-channel summary statistics over the event batch.
// Channels with no samples contribute zeros. An empty or unusable batch
// yields the zero vector.
func (e *MobileExtractor) Extract(logs []models.EventLog) []float64 {
	out := make([]float64, featureDim)
	if len(logs) == 0 {
		return out
	}

	samples := make(map[string][]float64, channelCount)
	add := func(channel string, v float64, ok bool) {
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			samples[channel] = append(samples[channel], v)
		}
	}
	addField := func(channel string, data map[string]any, keys ...string) {
		v, ok := number(data, keys...)
		add(channel, v, ok)
	}

	var prev *models.EventLog
	for i := range logs {
		ev := &logs[i]
		switch ev.EventType {
		case "touch", "touch_down", "touch_up", "tap":
			addField("touch_duration", ev.Data, "duration", "duration_ms")
			addField("touch_pressure", ev.Data, "pressure")
			addField("touch_area", ev.Data, "area", "touch_area")
			addField("touch_x", ev.Data, "x")
			addField("touch_y", ev.Data, "y")
		case "scroll":
			addField("scroll_velocity", ev.Data, "velocity")
			addField("scroll_distance", ev.Data, "distance")
			addField("scroll_duration", ev.Data, "duration", "duration_ms")
		case "swipe":
			addField("swipe_velocity", ev.Data, "velocity")
		case "accelerometer", "accel", "motion":
			x, okX := number(ev.Data, "x")
			y, okY := number(ev.Data, "y")
			z, okZ := number(ev.Data, "z")
			add("accel_x", x, okX)
			add("accel_y", y, okY)
			add("accel_z", z, okZ)
			if okX && okY && okZ {
				add("accel_magnitude", math.Sqrt(x*x+y*y+z*z), true)
			}
		case "gyroscope", "gyro":
			x, okX := number(ev.Data, "x")
			y, okY := number(ev.Data, "y")
			z, okZ := number(ev.Data, "z")
			add("gyro_x", x, okX)
			add("gyro_y", y, okY)
			add("gyro_z", z, okZ)
			if okX && okY && okZ {
				add("gyro_magnitude", math.Sqrt(x*x+y*y+z*z), true)
			}
		}

		if prev != nil && !ev.Timestamp.IsZero() && !prev.Timestamp.IsZero() {
			gap := ev.Timestamp.Sub(prev.Timestamp).Seconds()
			add("inter_event_gap", gap, gap >= 0)
		}
		prev = ev
	}

	total := float64(len(logs))
	for ci, channel := range channels {
		vals := samples[channel]
		if len(vals) == 0 {
			continue
		}
		base := ci * statsPerChannel
		mean, std, min, max := summarize(vals)
		out[base] = mean
		out[base+1] = std
		out[base+2] = min
		out[base+3] = max
		out[base+4] = float64(len(vals)) / total
	}
	return out
}

// SessionDuration returns the wall-clock span of the batch in seconds, or
// false when fewer than two events carry a timestamp. Reported in session
// metadata only; it does not enter the feature vector.
func SessionDuration(logs []models.EventLog) (float64, bool) {
	var first, last *models.EventLog
	for i := range logs {
		if logs[i].Timestamp.IsZero() {
			continue
		}
		if first == nil {
			first = &logs[i]
		}
		last = &logs[i]
	}
	if first == nil || last == first {
		return 0, false
	}
	return last.Timestamp.Sub(first.Timestamp).Seconds(), true
}

// EventTypes returns the distinct event types in the batch, in first-seen
// order.
func EventTypes(logs []models.EventLog) []string {
	seen := make(map[string]struct{}, 4)
	var types []string
	for i := range logs {
		et := logs[i].EventType
		if et == "" {
			continue
		}
		if _, ok := seen[et]; ok {
			continue
		}
		seen[et] = struct{}{}
		types = append(types, et)
	}
	return types
}

func summarize(vals []float64) (mean, std, min, max float64) {
	min, max = vals[0], vals[0]
	var sum float64
	for _, v := range vals {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(vals)))
	return mean, std, min, max
}

// number pulls the first present key out of data as a float64. JSON decoding
// hands numbers over as float64, but float32, int and int64 values show up
// in hand-built batches, so those convert too. Strings, numeric or not, are
// not converted.
func number(data map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := data[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}
