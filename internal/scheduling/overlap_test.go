package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
)

var day = time.Date(2030, 5, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func iv(h1, m1, h2, m2 int) Interval {
	return Interval{Start: at(h1, m1), End: at(h2, m2)}
}

func Test_Interval_Overlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"touching end to start", iv(10, 0, 10, 30), iv(10, 30, 11, 0), false},
		{"touching start to end", iv(10, 30, 11, 0), iv(10, 0, 10, 30), false},
		{"partial overlap", iv(10, 0, 10, 30), iv(10, 15, 10, 45), true},
		{"contained", iv(10, 0, 11, 0), iv(10, 15, 10, 45), true},
		{"identical", iv(10, 0, 10, 30), iv(10, 0, 10, 30), true},
		{"disjoint", iv(9, 0, 9, 30), iv(10, 0, 10, 30), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			assert.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

func Test_Interval_Validate(t *testing.T) {
	now := at(8, 0)

	assert.NoError(t, iv(10, 0, 10, 10).Validate(now))
	assert.ErrorIs(t, iv(8, 0, 9, 0).Validate(now), ErrStartNotInFuture)
	assert.ErrorIs(t, iv(7, 0, 9, 0).Validate(now), ErrStartNotInFuture)
	assert.ErrorIs(t, iv(10, 0, 10, 0).Validate(now), ErrEndBeforeStart)
	assert.ErrorIs(t, iv(10, 0, 9, 0).Validate(now), ErrEndBeforeStart)
	assert.ErrorIs(t, iv(10, 0, 10, 9).Validate(now), ErrDurationTooShort)
}

func Test_Interval_Minutes(t *testing.T) {
	assert.Equal(t, 45, iv(10, 0, 10, 45).Minutes())
	assert.Equal(t, 45*time.Minute, iv(10, 0, 10, 45).Duration())
}

func Test_Detector_Conflicts(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	doctor := identity.Participant{UID: "doc-1"}
	other := identity.Participant{UID: "doc-2"}

	a := &TimeSlot{ID: uuid.New(), Owner: doctor, Start: at(10, 0), End: at(10, 30)}
	b := &TimeSlot{ID: uuid.New(), Owner: doctor, Start: at(10, 30), End: at(11, 0)}
	c := &TimeSlot{ID: uuid.New(), Owner: other, Start: at(10, 0), End: at(11, 0)}
	for _, s := range []*TimeSlot{a, b, c} {
		require.NoError(t, repo.Create(ctx, s))
	}

	d := NewDetector(repo)

	got, err := d.Conflicts(ctx, "doc-1", iv(10, 15, 10, 45), uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = d.Conflicts(ctx, "doc-1", iv(10, 15, 10, 45), a.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = d.Conflicts(ctx, "doc-1", iv(11, 0, 11, 30), uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
