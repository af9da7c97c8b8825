package primitive

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBORRoundTrip(t *testing.T) {
	values := []Primitive{
		Bool(true),
		Bool(false),
		U64(0),
		U64(42),
		I64(-7),
		I64(7),
		Str(""),
		Str("hello"),
	}
	for _, v := range values {
		data, err := v.Marshal()
		require.NoError(t, err)
		got, err := Unmarshal(data)
		require.NoError(t, err)
		require.True(t, v.Equal(got), "roundtrip mismatch for %s", v)
	}
}

func TestSortableRoundTrip(t *testing.T) {
	values := []Primitive{
		Bool(true), Bool(false),
		U64(0), U64(1), U64(1 << 63),
		I64(-100), I64(0), I64(100),
		Str("a"), Str("zzz"),
	}
	for _, v := range values {
		data := v.MarshalSortable()
		got, err := UnmarshalSortable(data)
		require.NoError(t, err)
		require.True(t, v.Equal(got))
	}
}

func TestTypeTagMajorOrdering(t *testing.T) {
	bools := Bool(true)
	u64s := U64(0)
	i64s := I64(-1000000)
	strs := Str("")
	require.True(t, bools.Less(u64s))
	require.True(t, u64s.Less(i64s))
	require.True(t, i64s.Less(strs))
	require.False(t, strs.Less(bools))
}

func TestOrderingMatchesSortableBytes(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	var values []Primitive
	for i := 0; i < 200; i++ {
		switch i % 4 {
		case 0:
			values = append(values, Bool(r.Intn(2) == 0))
		case 1:
			values = append(values, U64(r.Uint64()))
		case 2:
			values = append(values, I64(int64(r.Uint64())))
		case 3:
			values = append(values, Str(randStr(r, 6)))
		}
	}
	sorted := make([]Primitive, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	byBytes := make([]Primitive, len(values))
	copy(byBytes, values)
	sort.Slice(byBytes, func(i, j int) bool {
		return bytes.Compare(byBytes[i].MarshalSortable(), byBytes[j].MarshalSortable()) < 0
	})

	for i := range sorted {
		require.True(t, sorted[i].Equal(byBytes[i]), "order mismatch at index %d", i)
	}
}

func randStr(r *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}
