package tensor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func filled(n int) *Float32 {
	a := NewFloat32(n, 3, 4, 5)
	for i := range a.Data {
		a.Data[i] = float32(i)*0.25 - 7
	}
	return a
}

func TestFloat32RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		a := filled(n)
		if n > 0 {
			a.Data[0] = float32(math.Inf(-1))
			a.Data[len(a.Data)-1] = math.SmallestNonzeroFloat32
		}
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, a))

		got, err := DecodeFloat32(&buf)
		require.NoError(t, err)
		if diff := cmp.Diff(a, got); diff != "" {
			t.Errorf("n=%d: round trip mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestInt64RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(i*i) - 50
		}
		if n > 0 {
			values[0] = math.MinInt64
		}
		a := FromInt64s(values)
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, a))

		got, err := DecodeInt64(&buf)
		require.NoError(t, err)
		assert.Equal(t, []int{n}, got.Shape)
		assert.Equal(t, n, got.Len())
		if diff := cmp.Diff(a.Data, got.Data); diff != "" {
			t.Errorf("n=%d: round trip mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestLargerThanChunk(t *testing.T) {
	a := NewFloat32(3, chunk+7)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, a))
	got, err := DecodeFloat32(&buf)
	require.NoError(t, err)
	assert.Equal(t, a.Shape, got.Shape)
	assert.Equal(t, a.Data, got.Data)
}

func TestDecodeWrongType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FromInt64s([]int64{1, 2, 3})))
	_, err := DecodeFloat32(&buf)
	assert.ErrorIs(t, err, ErrDType)
}

// rawArray encodes a float32 header for shape followed by nbytes of data
// without checking that they agree.
func rawArray(t *testing.T, shape []int, nbytes int) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.Encode(&header{Version: Version, DType: Float32Type, Shape: shape}))
	require.NoError(t, enc.EncodeBytesLen(nbytes))
	buf.Write(make([]byte, nbytes))
	return buf.Bytes()
}

func TestDecodeCorrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, filled(2)))
	good := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not an array")},
		{"truncated", good[:len(good)-3]},
		{"trailing", append(append([]byte{}, good...), 0)},
		{"overflowing shape", rawArray(t, []int{2, 1 << 62}, 0)},
		{"shape beyond format limit", rawArray(t, []int{1 << 20, 1 << 20}, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFloat32(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestObservationSlicesAreDisjoint(t *testing.T) {
	a := NewFloat32(3, 2, 2, 2)
	for i := 0; i < a.Len(); i++ {
		obs := a.Observation(i)
		require.Len(t, obs, 8)
		assert.Equal(t, 8, cap(obs))
		for j := range obs {
			obs[j] = float32(i)
		}
	}
	for i, v := range a.Data {
		assert.Equal(t, float32(i/8), v)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.array")
	a := filled(4)
	require.NoError(t, WriteFile(path, a))

	got, err := ReadFloat32File(path)
	require.NoError(t, err)
	assert.Equal(t, a.Data, got.Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")
}

func TestWriteFileFailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.array")
	require.NoError(t, WriteFile(path, FromInt64s([]int64{4, 5})))

	err := WriteAtomic(path, func(f *os.File) error {
		_, _ = f.WriteString("partial")
		return os.ErrClosed
	})
	require.Error(t, err)

	got, err := ReadInt64File(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, got.Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	images, labels := filepath.Join(dir, "train.array"), filepath.Join(dir, "train.label.array")
	require.NoError(t, WriteFile(labels, FromInt64s([]int64{9})))

	var b Batch
	require.NoError(t, b.WriteArray(images, filled(1)))
	require.NoError(t, b.WriteArray(labels, FromInt64s([]int64{1})))
	assert.NoFileExists(t, images)
	old, err := ReadInt64File(labels)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, old.Data)

	require.NoError(t, b.Commit())
	got, err := ReadInt64File(labels)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got.Data)
	assert.FileExists(t, images)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files left behind")
}

func TestBatchDiscard(t *testing.T) {
	dir := t.TempDir()
	var b Batch
	require.NoError(t, b.WriteArray(filepath.Join(dir, "test.array"), filled(1)))
	err := b.Write(filepath.Join(dir, "norm.json"), func(f *os.File) error { return os.ErrClosed })
	require.ErrorIs(t, err, os.ErrClosed)
	b.Discard()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
