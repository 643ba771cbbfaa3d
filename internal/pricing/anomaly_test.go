package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_Check(t *testing.T) {
	t.Parallel()

	g := DefaultGuard()

	tests := []struct {
		name      string
		prev      *float64
		next      float64
		wantOK    bool
		wantDelta float64
	}{
		{name: "no prior accepts", prev: nil, next: 500, wantOK: true},
		{name: "zero prior accepts", prev: ptr(0), next: 500, wantOK: true},
		{name: "81 percent rise rejected", prev: ptr(100), next: 181, wantOK: false, wantDelta: 0.81},
		{name: "79 percent rise accepted", prev: ptr(100), next: 179, wantOK: true, wantDelta: 0.79},
		{name: "80 percent rise accepted at boundary", prev: ptr(100), next: 180, wantOK: true, wantDelta: 0.80},
		{name: "61 percent drop rejected", prev: ptr(100), next: 39, wantOK: false, wantDelta: -0.61},
		{name: "60 percent drop accepted at boundary", prev: ptr(100), next: 40, wantOK: true, wantDelta: -0.60},
		{name: "flat accepted", prev: ptr(100), next: 100, wantOK: true, wantDelta: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			delta, ok := g.Check(tc.prev, tc.next)
			assert.Equal(t, tc.wantOK, ok)
			assert.InDelta(t, tc.wantDelta, delta, 1e-9)
		})
	}
}
