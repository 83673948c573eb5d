package stats

import (
	"sync"

	"github.com/golang/glog"

	"go-sepconv/pkg/verify"
)

var banners = map[string]string{
	"direct":    "Basic convolution 2D without optimization",
	"separable": "Optimized separable convolution 2D",
}

// Nop discards everything.
type Nop struct{}

func (Nop) Convolution(Record)        {}
func (Nop) Separability(Verdict)      {}
func (Nop) Equivalence(verify.Report) {}

// LogSink writes diagnostics through glog. MaxMismatches caps how many
// differing cells are logged individually; zero logs all of them.
type LogSink struct {
	MaxMismatches int
}

func (s LogSink) Convolution(r Record) {
	banner, ok := banners[r.Method]
	if !ok {
		banner = r.Method
	}
	glog.Infof("***********************")
	glog.Infof("%s", banner)
	glog.Infof("Image Dimensions: Row=%d Col=%d", r.Rows, r.Cols)
	glog.Infof("Total Pixels: %d", r.Pixels)
	glog.Infof("Total Multipliers: %d", r.Multiplies)
	glog.V(1).Infof("Elapsed: %s", r.Duration)
	glog.Infof("***********************")
}

func (s LogSink) Separability(v Verdict) {
	if !v.Separable {
		glog.Warningf("Kernel filter is not separable: %v", v.Err)
		return
	}
	glog.Infof("Kernel %dx%d is separable", v.Size, v.Size)
	glog.V(1).Infof("Row factor: %v", v.Row)
	glog.V(1).Infof("Column factor: %v", v.Col)
	if v.Deviation != 0 {
		glog.Warningf("Outer product of factors deviates from kernel by %g", v.Deviation)
	}
}

func (s LogSink) Equivalence(r verify.Report) {
	if r.Equal {
		glog.Infof("Separable convolution matches original convolution")
		return
	}
	glog.Warningf("Separable convolution not equal to original convolution (%d of %d cells, max diff %g)",
		len(r.Mismatches), r.Cells, r.MaxAbsDiff)
	for i, m := range r.Mismatches {
		if s.MaxMismatches > 0 && i >= s.MaxMismatches {
			glog.Warningf("... %d more", len(r.Mismatches)-i)
			break
		}
		glog.Warningf("[%d][%d]=%v separable=%v", m.Row, m.Col, m.Direct, m.Separable)
	}
}

// Collector keeps every diagnostic in memory. It is safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	records      []Record
	verdicts     []Verdict
	equivalences []verify.Report
}

func (c *Collector) Convolution(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *Collector) Separability(v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts = append(c.verdicts, v)
}

func (c *Collector) Equivalence(r verify.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.equivalences = append(c.equivalences, r)
}

// Records returns a copy of the convolution records seen so far.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

// Verdicts returns a copy of the separability verdicts seen so far.
func (c *Collector) Verdicts() []Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Verdict(nil), c.verdicts...)
}

// Equivalences returns a copy of the comparison reports seen so far.
func (c *Collector) Equivalences() []verify.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]verify.Report(nil), c.equivalences...)
}

type tee []Sink

// Tee fans every diagnostic out to all sinks in order.
func Tee(sinks ...Sink) Sink { return tee(sinks) }

func (t tee) Convolution(r Record) {
	for _, s := range t {
		s.Convolution(r)
	}
}

func (t tee) Separability(v Verdict) {
	for _, s := range t {
		s.Separability(v)
	}
}

func (t tee) Equivalence(r verify.Report) {
	for _, s := range t {
		s.Equivalence(r)
	}
}
