package remediation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/internal/domain"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusPending, domain.StatusAnalyzing, true},
		{domain.StatusPending, domain.StatusFixing, false},
		{domain.StatusPending, domain.StatusResolved, false},
		{domain.StatusAnalyzing, domain.StatusAnalyzing, true},
		{domain.StatusAnalyzing, domain.StatusFixing, true},
		{domain.StatusAnalyzing, domain.StatusFailed, true},
		{domain.StatusAnalyzing, domain.StatusPending, false},
		{domain.StatusFixing, domain.StatusResolved, true},
		{domain.StatusFixing, domain.StatusAnalyzing, false},
		{domain.StatusResolved, domain.StatusAnalyzing, false},
		{domain.StatusFailed, domain.StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestApplyAnalyzingCountsAttempts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.FailureRecord{ID: "a", Status: domain.StatusPending}

	require.NoError(t, Apply(&rec, domain.StatusAnalyzing, nil, now))
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.LastAttemptAt)
	assert.Equal(t, now, *rec.LastAttemptAt)

	later := now.Add(time.Minute)
	require.NoError(t, Apply(&rec, domain.StatusAnalyzing, nil, later))
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, later, *rec.LastAttemptAt)
}

func TestApplyResolvedNeedsSuccessfulResolution(t *testing.T) {
	rec := domain.FailureRecord{Status: domain.StatusFixing}

	err := Apply(&rec, domain.StatusResolved, nil, time.Now())
	require.ErrorIs(t, err, ErrResolutionRequired)
	err = Apply(&rec, domain.StatusResolved, &domain.Resolution{Description: "nope"}, time.Now())
	require.ErrorIs(t, err, ErrResolutionRequired)
	assert.Equal(t, domain.StatusFixing, rec.Status)

	res := &domain.Resolution{Description: "added missing type", CommitSHA: "abc123", Success: true}
	require.NoError(t, Apply(&rec, domain.StatusResolved, res, time.Now()))
	assert.Equal(t, domain.StatusResolved, rec.Status)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, "abc123", rec.Resolution.CommitSHA)
}

func TestApplyFailedResolutionRules(t *testing.T) {
	rec := domain.FailureRecord{Status: domain.StatusAnalyzing}
	err := Apply(&rec, domain.StatusFailed, &domain.Resolution{Success: true}, time.Now())
	require.ErrorIs(t, err, ErrResolutionRequired)

	require.NoError(t, Apply(&rec, domain.StatusFailed, &domain.Resolution{Description: "gave up"}, time.Now()))
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.False(t, rec.Resolution.Success)

	other := domain.FailureRecord{Status: domain.StatusFixing}
	require.NoError(t, Apply(&other, domain.StatusFailed, nil, time.Now()))
	assert.Nil(t, other.Resolution)
}

func TestApplyRejectsResolutionOnNonTerminal(t *testing.T) {
	rec := domain.FailureRecord{Status: domain.StatusAnalyzing}
	err := Apply(&rec, domain.StatusFixing, &domain.Resolution{Success: true}, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StatusAnalyzing, rec.Status)
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	rec := domain.FailureRecord{Status: domain.StatusPending}
	err := Apply(&rec, domain.Status("done"), nil, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
}
