package retry_test

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"gpu-conformance/internal/retry"

	"github.com/google/go-cmp/cmp"
)

func TestRetrySleep(t *testing.T) {
	t.Parallel()

	// Identity entropy exposes the jitter ceiling.
	identity := func(n int64) int64 { return n }

	type out struct {
		sleep    time.Duration
		exceeded bool
	}

	tests := []struct {
		name     string
		strategy retry.Strategy
		in       uint
		want     out
	}{
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewNever(), 0, out{0, true}},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewExponentialBackOff(10*time.Millisecond, time.Second, 3, identity), 0, out{10 * time.Millisecond, false}},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewExponentialBackOff(10*time.Millisecond, time.Second, 3, identity), 2, out{40 * time.Millisecond, false}},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewExponentialBackOff(10*time.Millisecond, 25*time.Millisecond, 3, identity), 2, out{25 * time.Millisecond, false}},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewExponentialBackOff(10*time.Millisecond, time.Second, 3, identity), 3, out{0, true}},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), retry.NewExponentialBackOff(time.Hour, 2*time.Hour, 100, identity), 80, out{2 * time.Hour, false}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sleep, exceeded := tt.strategy.Sleep(tt.in)
			if diff := cmp.Diff(tt.want, out{sleep, exceeded}, cmp.AllowUnexported(out{})); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}
