package quantization

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"None", TypeNone, false},
		{"sq8", TypeSQ8, false},
		{"SQ8", TypeSQ8, false},
		{"ScalarQuantize8", TypeSQ8, false},
		{"pq", "", true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
		} else {
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestNoneRoundtripIsExact(t *testing.T) {
	q, err := New(TypeNone)
	require.NoError(t, err)

	vec := []float32{0.5, -1.25, 3.75, 0}
	decoded := q.Decode(q.Encode(vec))
	assert.Equal(t, vec, decoded)
	assert.Equal(t, 4, q.BytesPerDimension())
	assert.True(t, q.Trained())
}

func TestSQ8RoundtripWithinErrorBound(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	vectors := make([][]float32, 16)
	for i := range vectors {
		vec := make([]float32, 64)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		vectors[i] = vec
	}
	q.Train(vectors)
	require.True(t, q.Trained())

	sq := q.(*scalarQuantizer)
	bound := sq.MaxError()
	for _, vec := range vectors {
		decoded := q.Decode(q.Encode(vec))
		require.Len(t, decoded, len(vec))
		for j := range vec {
			diff := vec[j] - decoded[j]
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, bound+1e-6)
		}
	}
}

func TestSQ8TrainIsFrozen(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)

	q.Train([][]float32{{0, 1}})
	state := q.State()

	// Further training must not drift the calibration.
	q.Train([][]float32{{-100, 100}})
	assert.Equal(t, state, q.State())
}

func TestSQ8ClampsOutOfRange(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)
	q.Train([][]float32{{0, 1}})

	encoded := q.Encode([]float32{-5, 5})
	assert.Equal(t, uint8(0), encoded[0])
	assert.Equal(t, uint8(255), encoded[1])
}

func TestSQ8DegenerateRange(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)
	q.Train([][]float32{{3, 3, 3}})

	decoded := q.Decode(q.Encode([]float32{3, 3, 3}))
	for _, v := range decoded {
		assert.InDelta(t, 3, v, 0.01)
	}
}

func TestSQ8ConcurrentTrainAndEncode(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	states := make([]State, workers)
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			q.Train([][]float32{{float32(g), float32(g) + 1}})
			encoded := q.Encode([]float32{float32(g) + 0.5})
			_ = q.Decode(encoded)
			states[g] = q.State()
		}(g)
	}
	close(start)
	wg.Wait()

	// Exactly one calibration wins and every goroutine observes it.
	require.True(t, q.Trained())
	for g := 1; g < workers; g++ {
		assert.Equal(t, states[0], states[g])
	}
	assert.Less(t, states[0].Min, states[0].Max)
}

func TestRestoreCarriesState(t *testing.T) {
	q, err := New(TypeSQ8)
	require.NoError(t, err)
	q.Train([][]float32{{-2, 7}})

	restored, err := Restore(TypeSQ8, q.State())
	require.NoError(t, err)
	require.True(t, restored.Trained())
	assert.Equal(t, q.State(), restored.State())

	vec := []float32{-1.5, 0, 6.5}
	assert.Equal(t, q.Encode(vec), restored.Encode(vec))
}

func TestRestoreZeroStateStaysUntrained(t *testing.T) {
	q, err := Restore(TypeSQ8, State{})
	require.NoError(t, err)
	assert.False(t, q.Trained())

	// First training after restore calibrates normally.
	q.Train([][]float32{{0, 1}})
	require.True(t, q.Trained())
	assert.Equal(t, State{Min: 0, Max: 1}, q.State())
}
