package ordering

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBetweenOpenBounds(t *testing.T) {
	key, err := KeyBetween("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultKey, key)

	head, err := KeyBetween("", key)
	require.NoError(t, err)
	assert.Less(t, string(head), string(key))

	tail, err := KeyBetween(key, "")
	require.NoError(t, err)
	assert.Greater(t, string(tail), string(key))
}

func TestKeyBetweenStrictlyInside(t *testing.T) {
	cases := []struct {
		name  string
		lower Key
		upper Key
	}{
		{name: "adjacent digits", lower: "V", upper: "W"},
		{name: "prefix upper", lower: "V", upper: "V1"},
		{name: "long lower", lower: "Vz", upper: "W"},
		{name: "shared prefix", lower: "abc1", upper: "abc2"},
		{name: "zero run", lower: "V", upper: "V0V"},
		{name: "wide gap", lower: "1", upper: "z"},
		{name: "smallest keys", lower: "001", upper: "01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := KeyBetween(tc.lower, tc.upper)
			require.NoError(t, err)
			require.NoError(t, Validate(got))
			assert.Less(t, string(tc.lower), string(got))
			assert.Less(t, string(got), string(tc.upper))
		})
	}
}

func TestKeyBetweenRejectsInvertedBounds(t *testing.T) {
	_, err := KeyBetween("W", "V")
	require.ErrorIs(t, err, ErrOrderingExhausted)

	_, err = KeyBetween("V", "V")
	require.ErrorIs(t, err, ErrOrderingExhausted)
}

func TestKeyBetweenRejectsMalformedKeys(t *testing.T) {
	for _, bad := range []Key{"V0", "a-b", "ü"} {
		_, err := KeyBetween(bad, "")
		assert.Truef(t, errors.Is(err, ErrInvalidKey), "KeyBetween(%q) error = %v", bad, err)
	}
}

func TestKeyBetweenReportsLengthOverflow(t *testing.T) {
	lower := Key("V")
	upper := Key("W")
	var err error
	for i := 0; i < 100000; i++ {
		var next Key
		next, err = KeyBetween(lower, upper)
		if err != nil {
			break
		}
		lower = next
	}
	require.ErrorIs(t, err, ErrOrderingExhausted)
	assert.LessOrEqual(t, len(lower), MaxKeyLength)
}

func TestRepeatedHeadAndTailInsertsStayOrdered(t *testing.T) {
	tail := DefaultKey
	for i := 0; i < 10000; i++ {
		next, err := KeyBetween(tail, "")
		require.NoError(t, err)
		require.Greater(t, string(next), string(tail))
		tail = next
	}
	assert.Less(t, len(tail), 300)

	head := DefaultKey
	for i := 0; i < 10000; i++ {
		next, err := KeyBetween("", head)
		require.NoError(t, err)
		require.Less(t, string(next), string(head))
		head = next
	}
	assert.Less(t, len(head), 300)
}

func TestRandomGapInsertsProduceDistinctSortedKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	list := []Key{DefaultKey}

	for i := 0; i < 10000; i++ {
		gap := rng.Intn(len(list) + 1)
		var lower, upper Key
		if gap > 0 {
			lower = list[gap-1]
		}
		if gap < len(list) {
			upper = list[gap]
		}
		key, err := KeyBetween(lower, upper)
		require.NoError(t, err)
		if lower != "" {
			require.Greater(t, string(key), string(lower))
		}
		if upper != "" {
			require.Less(t, string(key), string(upper))
		}

		list = append(list, "")
		copy(list[gap+1:], list[gap:])
		list[gap] = key
	}

	require.True(t, sort.SliceIsSorted(list, func(i, j int) bool { return list[i] < list[j] }))
	seen := make(map[Key]struct{}, len(list))
	for _, key := range list {
		_, dup := seen[key]
		require.Falsef(t, dup, "duplicate key %q", key)
		seen[key] = struct{}{}
	}
}

func TestSequence(t *testing.T) {
	keys, err := Sequence("", 5)
	require.NoError(t, err)
	require.Len(t, keys, 5)
	assert.Equal(t, DefaultKey, keys[0])
	for i := 1; i < len(keys); i++ {
		assert.Equal(t, -1, Compare(keys[i-1], keys[i]))
	}
}
