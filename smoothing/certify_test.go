package smoothing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertifyReferenceVectors(t *testing.T) {
	ablator, err := NewColumnAblator(cifarConfig(true))
	require.NoError(t, err)

	predCounts := [][]int{
		{20, 5, 1},
		{10, 5, 1},
		{1, 16, 1},
	}
	cert, certAndCorrect, top, err := ablator.Certify(predCounts, 4, []int{0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, true}, cert)
	assert.Equal(t, []bool{true, false, false}, certAndCorrect)
	assert.Equal(t, []int{0, 0, 1}, top)
}

func TestCertifyMargin(t *testing.T) {
	// ablationSize=1, sizeToCertify=1 -> affected=1, swing bound 2.
	cases := []struct {
		counts []int
		want   bool
	}{
		{[]int{3, 1}, false}, // margin 2 == bound: tie, not certified
		{[]int{4, 1}, true},  // margin 3 > bound
		{[]int{2, 2}, false}, // exact tie in votes
		{[]int{5}, true},     // single class: margin is the full count
	}
	for _, tc := range cases {
		cert, _, _, err := Certify([][]int{tc.counts}, 1, 1, []int{0})
		require.NoError(t, err)
		assert.Equal(t, tc.want, cert[0], "counts %v", tc.counts)
	}
}

func TestCertifyTieBreaksToLowestClass(t *testing.T) {
	_, certAndCorrect, top, err := Certify([][]int{{10, 10, 0}}, 1, 1, []int{0})
	require.NoError(t, err)
	assert.Equal(t, 0, top[0])
	// tied margin is zero, so never certified
	assert.False(t, certAndCorrect[0])
}

func TestCertifyMonotonicInSize(t *testing.T) {
	counts := [][]int{{20, 5, 1}}
	prev := true
	for size := 1; size <= 12; size++ {
		cert, _, _, err := Certify(counts, 4, size, []int{0})
		require.NoError(t, err)
		if !prev {
			assert.False(t, cert[0], "certificate reappeared at size %d", size)
		}
		prev = cert[0]
	}
	// small corruptions certify, oversized ones never do
	cert, _, _, err := Certify(counts, 4, 1, []int{0})
	require.NoError(t, err)
	assert.True(t, cert[0])
	cert, _, _, err = Certify(counts, 4, 26, []int{0})
	require.NoError(t, err)
	assert.False(t, cert[0])
}

func TestCertifyRejectsBadArguments(t *testing.T) {
	var domErr *DomainError
	var cfgErr *ConfigurationError
	var shapeErr *ShapeError

	_, _, _, err := Certify([][]int{{1, 2}}, 4, 0, []int{0})
	require.Error(t, err)
	assert.True(t, errors.As(err, &domErr))

	_, _, _, err = Certify([][]int{{1, 2}}, 0, 4, []int{0})
	require.Error(t, err)
	assert.True(t, errors.As(err, &cfgErr))

	_, _, _, err = Certify([][]int{{1, 2}}, 4, 4, []int{0, 1})
	require.Error(t, err)
	assert.True(t, errors.As(err, &shapeErr))

	_, _, _, err = Certify([][]int{{}}, 4, 4, []int{0})
	require.Error(t, err)
	assert.True(t, errors.As(err, &shapeErr))

	_, _, _, err = Certify([][]int{{3, -1}}, 4, 4, []int{0})
	require.Error(t, err)
	assert.True(t, errors.As(err, &domErr))
}
