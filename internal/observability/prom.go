package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relabs-tech/scan_capture/internal/ports"
)

// Metric names understood by PromObs.
const (
	Admissions              = "scan_admissions_total"
	RejectionsTooSoon       = "scan_rejections_too_soon_total"
	RejectionsNotReady      = "scan_rejections_not_ready_total"
	MotionWarnings          = "scan_motion_warnings_total"
	InvalidSamples          = "scan_invalid_samples_total"
	ReconstructionsComplete = "scan_reconstructions_completed_total"
	ReconstructionsFailed   = "scan_reconstructions_failed_total"

	SessionSamples         = "scan_session_samples"
	ReconstructionProgress = "scan_reconstruction_progress"
	MotionMagnitude        = "scan_motion_magnitude"
	SessionPhase           = "scan_session_phase"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewPromObs registers the capture metrics on reg.
func NewPromObs(reg prometheus.Registerer) *PromObs {
	p := &PromObs{
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
	}
	counter := func(name, help string) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		p.counters[name] = c
	}
	gauge := func(name, help string) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		p.gauges[name] = g
	}

	counter(Admissions, "Capture requests admitted, manual and automatic.")
	counter(RejectionsTooSoon, "Automatic ticks rejected because the interval had not elapsed.")
	counter(RejectionsNotReady, "Capture requests rejected because the session or camera was not ready.")
	counter(MotionWarnings, "Times the excessive motion warning was raised.")
	counter(InvalidSamples, "Samples reported unusable by the reconstruction engine.")
	counter(ReconstructionsComplete, "Reconstructions that produced a model.")
	counter(ReconstructionsFailed, "Reconstructions that ended in failure.")

	gauge(SessionSamples, "Samples in the current session.")
	gauge(ReconstructionProgress, "Fraction of the running reconstruction completed.")
	gauge(MotionMagnitude, "Last accelerometer magnitude in g.")
	gauge(SessionPhase, "Current session phase index (0 idle .. 5 failed).")

	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("%s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
		return
	}
	log.Printf("ERROR: %s%s", msg, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
