package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceBy(t *testing.T) {
	t.Parallel()

	changed := func(prev, cur int) bool { return prev != cur }

	tests := []struct {
		name      string
		items     []int
		split     func(prev, cur int) bool
		expGroups [][]int
	}{
		{
			name:  "ok/empty",
			split: changed,
		},
		{
			name:      "ok/single",
			items:     []int{1},
			split:     changed,
			expGroups: [][]int{{1}},
		},
		{
			name:      "ok/runs",
			items:     []int{1, 1, 2, 2, 2, 1},
			split:     changed,
			expGroups: [][]int{{1, 1}, {2, 2, 2}, {1}},
		},
		{
			name:      "ok/on_current",
			items:     []int{0, 1, 5, 2, 5},
			split:     func(_, cur int) bool { return cur == 5 },
			expGroups: [][]int{{0, 1}, {5, 2}, {5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expGroups, SliceBy(tt.items, tt.split))
		})
	}

	t.Run("ok/groups_dont_share_capacity", func(t *testing.T) {
		t.Parallel()
		groups := SliceBy([]int{1, 2}, changed)
		groups[0] = append(groups[0], 9)
		assert.Equal(t, []int{2}, groups[1])
	})
}
