package collector

import (
	"sort"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
)

func TestDiffValues(t *testing.T) {
	tests := []struct {
		name string
		prev map[string]string
		cur  map[string]string
		want ValueDiff
	}{
		{
			name: "both empty",
			want: ValueDiff{},
		},
		{
			name: "all added",
			cur:  map[string]string{"b": "2", "a": "1"},
			want: ValueDiff{Added: []string{"a", "b"}},
		},
		{
			name: "all removed",
			prev: map[string]string{"a": "1"},
			want: ValueDiff{Removed: []string{"a"}},
		},
		{
			name: "mixed",
			prev: map[string]string{"keep": "x", "change": "old", "gone": "y"},
			cur:  map[string]string{"keep": "x", "change": "new", "fresh": "z"},
			want: ValueDiff{
				Added:     []string{"fresh"},
				Modified:  []string{"change"},
				Removed:   []string{"gone"},
				Unchanged: []string{"keep"},
			},
		},
		{
			name: "empty data is still a value",
			prev: map[string]string{"a": ""},
			cur:  map[string]string{"a": ""},
			want: ValueDiff{Unchanged: []string{"a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffValues(tt.prev, tt.cur))
		})
	}
}

func TestDiffSet(t *testing.T) {
	prev := map[string]int{"a": 1, "b": 2}
	cur := map[string]int{"b": 9, "c": 3, "d": 4}

	added, removed := DiffSet(prev, cur)
	assert.Equal(t, []string{"c", "d"}, added)
	assert.Equal(t, []string{"a"}, removed)

	added, removed = DiffSet(cur, cur)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

// assertPartition checks that every name of prev and cur lands in exactly one list.
func assertPartition(t *testing.T, prev, cur map[string]string, d ValueDiff) {
	t.Helper()
	seen := make(map[string]int)
	for _, list := range [][]string{d.Added, d.Modified, d.Removed, d.Unchanged} {
		assert.True(t, sort.StringsAreSorted(list))
		for _, name := range list {
			seen[name]++
		}
	}
	for name := range prev {
		assert.Equal(t, 1, seen[name], "name %q", name)
	}
	for name := range cur {
		assert.Equal(t, 1, seen[name], "name %q", name)
	}
	assert.Len(t, seen, len(unionKeys(prev, cur)))
}

func FuzzDiffValues(f *testing.F) {
	f.Add([]byte("seed"))
	f.Add([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	f.Fuzz(func(t *testing.T, data []byte) {
		var in struct {
			Prev map[string]string
			Cur  map[string]string
		}
		if err := fuzz.NewConsumer(data).GenerateStruct(&in); err != nil {
			return
		}
		assertPartition(t, in.Prev, in.Cur, DiffValues(in.Prev, in.Cur))
	})
}
