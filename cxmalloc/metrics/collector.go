// Package metrics exports family statistics to Prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/cxmalloc/cxmalloc"
)

const namespace = "cxmalloc"

// Collector reports a snapshot of each registered family on every scrape.
type Collector struct {
	mu   sync.Mutex
	fams []*cxmalloc.Family

	active      *prometheus.Desc
	capacity    *prometheus.Desc
	bytes       *prometheus.Desc
	utilization *prometheus.Desc
	oversized   *prometheus.Desc

	classActive *prometheus.Desc
	classBlocks *prometheus.Desc
	classHoles  *prometheus.Desc
}

// NewCollector returns a collector over fams. More families can be added
// with Add.
func NewCollector(fams ...*cxmalloc.Family) *Collector {
	family := []string{"family"}
	class := []string{"family", "length"}
	return &Collector{
		fams:        fams,
		active:      prometheus.NewDesc(namespace+"_active_lines", "Active lines in the family.", family, nil),
		capacity:    prometheus.NewDesc(namespace+"_capacity_lines", "Lines held by allocated blocks.", family, nil),
		bytes:       prometheus.NewDesc(namespace+"_memory_bytes", "Memory held by blocks, registers and oversized lines.", family, nil),
		utilization: prometheus.NewDesc(namespace+"_utilization_ratio", "Active lines over capacity.", family, nil),
		oversized:   prometheus.NewDesc(namespace+"_oversized_lines", "Standalone lines above the largest class.", family, nil),
		classActive: prometheus.NewDesc(namespace+"_class_active_lines", "Active lines per size class.", class, nil),
		classBlocks: prometheus.NewDesc(namespace+"_class_blocks", "Block slots per size class.", class, nil),
		classHoles:  prometheus.NewDesc(namespace+"_class_holes", "Blocks without data per size class.", class, nil),
	}
}

// Add registers another family.
func (c *Collector) Add(f *cxmalloc.Family) {
	c.mu.Lock()
	c.fams = append(c.fams, f)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.active, c.capacity, c.bytes, c.utilization, c.oversized, c.classActive, c.classBlocks, c.classHoles} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	fams := append([]*cxmalloc.Family(nil), c.fams...)
	c.mu.Unlock()

	for _, f := range fams {
		st := f.Stats()
		gauge := func(d *prometheus.Desc, v float64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
		}
		gauge(c.active, float64(st.Active), st.Name)
		gauge(c.capacity, float64(st.Capacity), st.Name)
		gauge(c.bytes, float64(st.Bytes), st.Name)
		gauge(c.utilization, st.Utilization(), st.Name)
		gauge(c.oversized, float64(st.OversizedLines), st.Name)
		for _, as := range st.Allocators {
			length := strconv.FormatUint(uint64(as.Length), 10)
			gauge(c.classActive, float64(as.Active), st.Name, length)
			gauge(c.classBlocks, float64(as.Blocks), st.Name, length)
			gauge(c.classHoles, float64(as.Holes), st.Name, length)
		}
	}
}
