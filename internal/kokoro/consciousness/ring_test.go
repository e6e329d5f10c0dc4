package consciousness

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRing(t *testing.T) {
	tests := []struct {
		name   string
		cap    int
		pushes []int
		want   []int
	}{
		{"empty", 3, nil, []int{}},
		{"partial", 3, []int{1, 2}, []int{1, 2}},
		{"exactly full", 3, []int{1, 2, 3}, []int{1, 2, 3}},
		{"evicts oldest", 3, []int{1, 2, 3, 4, 5}, []int{3, 4, 5}},
		{"wraps many times", 2, []int{1, 2, 3, 4, 5, 6, 7}, []int{6, 7}},
		{"zero capacity clamps to one", 0, []int{1, 2}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRing[int](tt.cap)
			for _, v := range tt.pushes {
				r.push(v)
			}
			if diff := cmp.Diff(tt.want, r.items()); diff != "" {
				t.Errorf("items (-want +got):\n%s", diff)
			}
			if r.len() != len(tt.want) {
				t.Errorf("len: got %d, want %d", r.len(), len(tt.want))
			}
		})
	}
}
