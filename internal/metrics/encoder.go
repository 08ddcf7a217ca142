// Package metrics provides Prometheus metrics for the capture and encode
// pipeline, encoder processes and Rockchip MPP devices.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Encoding FPS reported by the encoder process",
	}, []string{"encoder"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the encoder process",
	}, []string{"encoder"})

	encoderDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "encoder",
		Name:      "duplicate_frames_total",
		Help:      "Frames duplicated by the encoder process",
	}, []string{"encoder"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livenode",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "Encoding speed relative to real time",
	}, []string{"encoder"})

	// Local cache for SSE exporter access.
	encoderCache   = make(map[string]*EncoderProgress)
	encoderCacheMu sync.RWMutex
)

// EncoderProgress holds the last progress report of an encoder process.
type EncoderProgress struct {
	FPS             float64
	DroppedFrames   float64
	DuplicateFrames float64
	Speed           float64
}

// SetEncoderFPS sets the current FPS for an encoder.
func SetEncoderFPS(encoder string, fps float64) {
	encoderFPS.WithLabelValues(encoder).Set(fps)
	updateCache(encoder, func(m *EncoderProgress) { m.FPS = fps })
}

// SetEncoderDroppedFrames sets the dropped frame count for an encoder.
func SetEncoderDroppedFrames(encoder string, count float64) {
	encoderDroppedFrames.WithLabelValues(encoder).Set(count)
	updateCache(encoder, func(m *EncoderProgress) { m.DroppedFrames = count })
}

// SetEncoderDuplicateFrames sets the duplicate frame count for an encoder.
func SetEncoderDuplicateFrames(encoder string, count float64) {
	encoderDuplicateFrames.WithLabelValues(encoder).Set(count)
	updateCache(encoder, func(m *EncoderProgress) { m.DuplicateFrames = count })
}

// SetEncoderSpeed sets the processing speed for an encoder.
func SetEncoderSpeed(encoder string, speed float64) {
	encoderSpeed.WithLabelValues(encoder).Set(speed)
	updateCache(encoder, func(m *EncoderProgress) { m.Speed = speed })
}

// DeleteEncoderMetrics removes all progress metrics for an encoder.
func DeleteEncoderMetrics(encoder string) {
	encoderFPS.DeleteLabelValues(encoder)
	encoderDroppedFrames.DeleteLabelValues(encoder)
	encoderDuplicateFrames.DeleteLabelValues(encoder)
	encoderSpeed.DeleteLabelValues(encoder)

	encoderCacheMu.Lock()
	delete(encoderCache, encoder)
	encoderCacheMu.Unlock()
}

// GetEncoderProgress returns the last progress of an encoder.
func GetEncoderProgress(encoder string) *EncoderProgress {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	if m, ok := encoderCache[encoder]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllEncoderProgress returns progress for all running encoders.
func GetAllEncoderProgress() map[string]*EncoderProgress {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	result := make(map[string]*EncoderProgress, len(encoderCache))
	for id, m := range encoderCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(encoder string, update func(*EncoderProgress)) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	m, ok := encoderCache[encoder]
	if !ok {
		m = &EncoderProgress{}
		encoderCache[encoder] = m
	}
	update(m)
}
