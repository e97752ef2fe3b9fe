package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy returns how long to sleep before retry n, and whether the retry
// budget is exhausted.
type Strategy interface {
	Sleep(n uint) (time.Duration, bool)
}

type never struct{}

func NewNever() *never {
	return &never{}
}

func (nr *never) Sleep(n uint) (time.Duration, bool) {
	return 0, true
}

// Entropy picks a jittered delay in [0, n).
type Entropy func(n int64) int64

type exponentialBackOff struct {
	base          time.Duration
	max           time.Duration
	maxRetryCount uint
	entropy       Entropy
}

// NewExponentialBackOff uses full jitter: retry n sleeps a random duration
// below min(base*2^n, max).
func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetryCount uint, entropy Entropy) *exponentialBackOff {
	if entropy == nil {
		entropy = rand.Int63n
	}
	return &exponentialBackOff{
		base:          base,
		max:           max,
		maxRetryCount: maxRetryCount,
		entropy:       entropy,
	}
}

func (eb *exponentialBackOff) Sleep(retryCount uint) (time.Duration, bool) {
	if retryCount >= eb.maxRetryCount {
		return 0, true
	}

	ceiling := int64(eb.max)
	if retryCount < 63 {
		if delay, err := checkedMulInt64(1<<retryCount, int64(eb.base)); err == nil {
			ceiling = minOf(delay, ceiling)
		}
	}
	if ceiling <= 0 {
		return 0, false
	}
	return time.Duration(eb.entropy(ceiling)), false
}

func minOf[T constraints.Ordered](l T, r T) T {
	if l > r {
		return r
	}
	return l
}

var OverflowError = errors.New("overflow")

func checkedMulInt64(l int64, r int64) (int64, error) {
	if l == 0 || r == 0 {
		return 0, nil
	}
	if l > math.MaxInt64/r {
		return 0, OverflowError
	}
	return l * r, nil
}
