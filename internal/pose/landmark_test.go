package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLandmarks(n int, offset float64) Landmarks {
	lms := make(Landmarks, n)
	for i := range lms {
		lms[i] = Landmark{
			X: 0.1*float64(i%10) + offset,
			Y: 0.05*float64(i) + offset,
			Z: -0.01 * float64(i),
		}
	}
	return lms
}

func TestSimilarity(t *testing.T) {
	ref := testLandmarks(33, 0)

	t.Run("identical", func(t *testing.T) {
		assert.InDelta(t, 100, Similarity(ref, ref), 1e-9)
	})

	t.Run("shape_mismatch", func(t *testing.T) {
		assert.Equal(t, float64(0), Similarity(ref, testLandmarks(32, 0)))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, float64(0), Similarity(nil, Landmarks{}))
	})

	t.Run("uniform_offset", func(t *testing.T) {
		// shifting x and y by d gives dist = d*sqrt(2n), maxDist = sqrt(3n)
		d := 0.1
		live := testLandmarks(33, d)
		want := 100 - d*math.Sqrt(2.0/3.0)*100
		assert.InDelta(t, want, Similarity(ref, live), 1e-9)
	})

	t.Run("never_negative", func(t *testing.T) {
		assert.Equal(t, float64(0), Similarity(ref, testLandmarks(33, 5)))
	})

	t.Run("visibility_ignored", func(t *testing.T) {
		live := testLandmarks(33, 0)
		for i := range live {
			live[i].Visibility = 0.3
		}
		assert.InDelta(t, 100, Similarity(ref, live), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		live := testLandmarks(33, 0.02)
		assert.InDelta(t, Similarity(ref, live), Similarity(live, ref), 1e-12)
	})
}

func TestParseLandmarks(t *testing.T) {
	t.Run("document", func(t *testing.T) {
		lms, err := ParseLandmarks([]byte(`{"landmarks":[{"x":0.1,"y":0.2,"z":0.3,"visibility":0.9}]}`))
		require.NoError(t, err)
		assert.Equal(t, Landmarks{{X: 0.1, Y: 0.2, Z: 0.3, Visibility: 0.9}}, lms)
	})

	t.Run("triples", func(t *testing.T) {
		lms, err := ParseLandmarks([]byte(" [[0.1, 0.2, 0.3], [1, 2, 3, 0.5]]\n"))
		require.NoError(t, err)
		assert.Equal(t, Landmarks{{X: 0.1, Y: 0.2, Z: 0.3}, {X: 1, Y: 2, Z: 3, Visibility: 0.5}}, lms)
	})

	t.Run("short_triple", func(t *testing.T) {
		_, err := ParseLandmarks([]byte(`[[0.1, 0.2]]`))
		assert.ErrorContains(t, err, "expected 3 coordinates")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseLandmarks([]byte(`{"landmarks": 12}`))
		assert.Error(t, err)
		_, err = ParseLandmarks([]byte("   "))
		assert.Error(t, err)
	})

	t.Run("roundtrip_document", func(t *testing.T) {
		in := testLandmarks(3, 0)
		data, err := MarshalLandmarks(in)
		require.NoError(t, err)
		out, err := ParseLandmarks(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestConnections_InRange(t *testing.T) {
	for _, c := range Connections {
		assert.True(t, c.From >= 0 && c.From < 33, "from %d", c.From)
		assert.True(t, c.To >= 0 && c.To < 33, "to %d", c.To)
	}
}
