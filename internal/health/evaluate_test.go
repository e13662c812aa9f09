package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func healthySample() *Sample {
	return &Sample{
		Host: "myntp (10.0.0.5)",
		Tracking: TrackingSample{
			LeapStatus:    ptr("Normal"),
			Stratum:       ptr(2),
			LastOffsetSec: ptr(0.002),
		},
		Sources: SourcesSummary{
			HasSelectedSource:  true,
			SelectedSourceLine: ptr("#* PPS0 0 4 377 12 -234ns[ -312ns] +/- 102ns"),
			TotalSources:       3,
		},
		Fix: FixStatus{
			HasFix:          true,
			LastMode:        ptr(3),
			TPVMessageCount: 5,
			Summary:         "GPS(TPV): mode=3D fix | time=2025-01-01T00:00:00.000Z",
		},
	}
}

func TestEvaluate_Healthy(t *testing.T) {
	v := Evaluate(healthySample(), DefaultThresholds())

	assert.True(t, v.OK)
	assert.Empty(t, v.Problems)
	assert.Contains(t, v.Detail, "Host: myntp (10.0.0.5)")
	assert.Contains(t, v.Detail, "Stratum: 2")
	assert.Contains(t, v.Detail, "Last offset: 0.002 sec")
	assert.Equal(t, "OK | "+v.Detail, v.Message())
}

func TestEvaluate_StratumTooHigh(t *testing.T) {
	s := healthySample()
	s.Tracking.Stratum = ptr(9)

	v := Evaluate(s, DefaultThresholds())

	assert.False(t, v.OK)
	assert.Equal(t, []string{"Stratum too high (got 9, max 4)"}, v.Problems)
}

func TestEvaluate_EachViolation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Sample)
		want   string
	}{
		{
			name:   "leap missing",
			mutate: func(s *Sample) { s.Tracking.LeapStatus = nil },
			want:   "Leap status not Normal (got none)",
		},
		{
			name:   "leap insert second",
			mutate: func(s *Sample) { s.Tracking.LeapStatus = ptr("Insert second") },
			want:   "Leap status not Normal (got Insert second)",
		},
		{
			name:   "stratum missing",
			mutate: func(s *Sample) { s.Tracking.Stratum = nil },
			want:   "Stratum too high (got none, max 4)",
		},
		{
			name:   "offset missing",
			mutate: func(s *Sample) { s.Tracking.LastOffsetSec = nil },
			want:   "Time offset too large (abs nones > 0.05s)",
		},
		{
			name:   "negative offset beyond bound",
			mutate: func(s *Sample) { s.Tracking.LastOffsetSec = ptr(-0.2) },
			want:   "Time offset too large (abs -0.2s > 0.05s)",
		},
		{
			name: "no selected source",
			mutate: func(s *Sample) {
				s.Sources.HasSelectedSource = false
				s.Sources.SelectedSourceLine = nil
			},
			want: "No selected NTP source in chronyc sources",
		},
		{
			name: "no fix",
			mutate: func(s *Sample) {
				s.Fix.HasFix = false
			},
			want: "GPS has no fix via gpspipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthySample()
			tt.mutate(s)

			v := Evaluate(s, DefaultThresholds())

			assert.False(t, v.OK)
			assert.Equal(t, []string{tt.want}, v.Problems)
			assert.NotEmpty(t, v.Detail)
		})
	}
}

func TestEvaluate_BoundaryValuesPass(t *testing.T) {
	s := healthySample()
	s.Tracking.Stratum = ptr(4)
	s.Tracking.LastOffsetSec = ptr(-0.05)

	v := Evaluate(s, DefaultThresholds())
	assert.True(t, v.OK, v.Problems)
}

func TestEvaluate_ProblemOrder(t *testing.T) {
	s := &Sample{Host: "myntp (0.0.0.0)"}

	v := Evaluate(s, Thresholds{MaxStratum: 3, MaxAbsOffsetSec: 0.01})

	require.Len(t, v.Problems, 6)
	assert.Equal(t, []string{
		"Leap status not Normal (got none)",
		"Stratum too high (got none, max 3)",
		"Time offset too large (abs nones > 0.01s)",
		"No selected NTP source in chronyc sources",
		"No NTP sources visible in chronyc sources",
		"GPS has no fix via gpspipe",
	}, v.Problems)
	assert.Equal(t,
		"Host: myntp (0.0.0.0) | Leap: none | Stratum: none | Last offset: none sec | Selected source: none | Total sources: 0 | GPS: ",
		v.Detail)
}

func TestEvaluate_IsPure(t *testing.T) {
	s := healthySample()
	s.Tracking.Stratum = ptr(7)
	s.Sources.TotalSources = 0
	th := Thresholds{MaxStratum: 4, MaxAbsOffsetSec: 0.001}

	first := Evaluate(s, th)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(s, th))
	}
	assert.Equal(t, 7, *s.Tracking.Stratum, "input must not be mutated")
}

func TestVerdictMessage_Unhealthy(t *testing.T) {
	v := Verdict{
		OK:       false,
		Problems: []string{"a", "b"},
		Detail:   "Host: h",
	}
	assert.Equal(t, "a | b || Host: h", v.Message())
}

func TestModeName(t *testing.T) {
	assert.Equal(t, "Unknown", ModeName(0))
	assert.Equal(t, "No fix", ModeName(1))
	assert.Equal(t, "2D fix", ModeName(2))
	assert.Equal(t, "3D fix", ModeName(3))
	assert.Equal(t, "7", ModeName(7))
}
