package contour

import (
	"math"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineAngle(t *testing.T) {
	a := orb.Point{106.5, 29.5}
	assert.Equal(t, 0.0, HaversineAngle(a, a))

	b := orb.Point{107.5, 30.25}
	assert.InDelta(t, HaversineAngle(a, b), HaversineAngle(b, a), 1e-15, "symmetric")

	// One degree of latitude is pi/180 of arc; the half angle is half that.
	d := HaversineAngle(orb.Point{0, 0}, orb.Point{0, 1})
	assert.InDelta(t, math.Pi/360, d, 1e-12)
}

func TestS2Angle(t *testing.T) {
	d := S2Angle(orb.Point{0, 0}, orb.Point{0, 1})
	assert.InDelta(t, math.Pi/180, d, 1e-9)

	a, b := orb.Point{106.5, 29.5}, orb.Point{107.5, 30.25}
	assert.InDelta(t, 2*HaversineAngle(a, b), S2Angle(a, b), 1e-9)
}

func TestMetricByName(t *testing.T) {
	for _, name := range []string{"", "haversine", "s2"} {
		fn, err := MetricByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, fn)
	}

	_, err := MetricByName("manhattan")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIndex_Empty(t *testing.T) {
	ix := BuildIndex(nil)
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Nearest(orb.Point{0, 0}, 3, HaversineAngle))
}

func TestIndex_FewerPointsThanK(t *testing.T) {
	ix := BuildIndex([]Observation{obs(1, 1, 0), obs(2, 2, 0)})
	got := ix.Nearest(orb.Point{0, 0}, 5, HaversineAngle)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
}

// planar distance makes the tree's pruning exact, so results must match a
// full scan
func TestIndex_MatchesBruteForce(t *testing.T) {
	var points []Observation
	// deterministic scatter over the default region
	for i := 0; i < 60; i++ {
		lon := 105.24 + math.Mod(float64(i)*0.731, 5)
		lat := 28.15 + math.Mod(float64(i)*0.389, 4.35)
		points = append(points, obs(lon, lat, float64(i)))
	}
	ix := BuildIndex(points)
	require.Equal(t, len(points), ix.Len())

	queries := []orb.Point{{105.3, 28.2}, {107.7, 30.3}, {110.2, 32.4}, {108.05, 29.11}}
	for _, q := range queries {
		for _, k := range []int{1, 2, 5} {
			got := ix.Nearest(q, k, planar.Distance)
			require.Len(t, got, k)

			want := make([]float64, len(points))
			for i, p := range points {
				want[i] = planar.Distance(q, p.Point())
			}
			sort.Float64s(want)

			for i := range got {
				assert.InDelta(t, want[i], got[i].Dist, 1e-12, "q=%v k=%d rank %d", q, k, i)
				if i > 0 {
					assert.LessOrEqual(t, got[i-1].Dist, got[i].Dist)
				}
			}
		}
	}
}

func TestIndex_ExactHit(t *testing.T) {
	points := []Observation{obs(106, 29, 1), obs(107, 30, 2), obs(108, 31, 3)}
	ix := BuildIndex(points)

	got := ix.Nearest(orb.Point{107, 30}, 1, S2Angle)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 0.0, got[0].Dist)
}
