package flowstate

import "math"

// RunningStats accumulates count, sum, min, max, mean and variance of a stream
// of samples in constant space. Mean and variance use Welford's update.
// Every accessor returns 0 for an empty stream.
type RunningStats struct {
	n    uint64
	mean float64
	m2   float64
	sum  float64
	min  float64
	max  float64
}

// Add folds one sample into the statistics.
func (s *RunningStats) Add(x float64) {
	s.n++
	s.sum += x
	if s.n == 1 {
		s.min, s.max = x, x
		s.mean = x
		s.m2 = 0
		return
	}
	if x < s.min {
		s.min = x
	}
	if x > s.max {
		s.max = x
	}
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

func (s RunningStats) Count() uint64 { return s.n }
func (s RunningStats) Sum() float64  { return s.sum }
func (s RunningStats) Mean() float64 { return s.mean }

func (s RunningStats) Min() float64 {
	if s.n == 0 {
		return 0
	}
	return s.min
}

func (s RunningStats) Max() float64 {
	if s.n == 0 {
		return 0
	}
	return s.max
}

// Variance is the population variance.
func (s RunningStats) Variance() float64 {
	if s.n == 0 {
		return 0
	}
	v := s.m2 / float64(s.n)
	if v < 0 {
		return 0
	}
	return v
}

// Std is the population standard deviation.
func (s RunningStats) Std() float64 {
	return math.Sqrt(s.Variance())
}
