package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cxmalloc/cxmalloc"
)

func newFamily(t *testing.T, name string) *cxmalloc.Family {
	t.Helper()
	d := cxmalloc.DefaultDescriptor(name)
	d.Parameter.BlockSize = 4096
	d.Parameter.MaxAllocators = 16
	f, err := cxmalloc.NewFamily(d)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func Test_Collector(t *testing.T) {
	f := newFamily(t, "nodes")
	for i := 0; i < 3; i++ {
		_, err := f.New(1)
		require.NoError(t, err)
	}
	c := NewCollector(f)

	const want = `
# HELP cxmalloc_active_lines Active lines in the family.
# TYPE cxmalloc_active_lines gauge
cxmalloc_active_lines{family="nodes"} 3
# HELP cxmalloc_capacity_lines Lines held by allocated blocks.
# TYPE cxmalloc_capacity_lines gauge
cxmalloc_capacity_lines{family="nodes"} 64
# HELP cxmalloc_class_active_lines Active lines per size class.
# TYPE cxmalloc_class_active_lines gauge
cxmalloc_class_active_lines{family="nodes",length="4"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want),
		"cxmalloc_active_lines", "cxmalloc_capacity_lines", "cxmalloc_class_active_lines"))

	// 5 family gauges plus 3 per existing class
	assert.Equal(t, 8, testutil.CollectAndCount(c))

	g := newFamily(t, "edges")
	_, err := g.New(124)
	require.NoError(t, err)
	c.Add(g)
	assert.Equal(t, 16, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 8)
}
