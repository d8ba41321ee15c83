package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDateKnownPhrasings covers each supported phrasing.
func TestDateKnownPhrasings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want time.Time
	}{
		{
			name: "hasta el numeric",
			text: "Las solicitudes se admiten hasta el 31/03/2026 en sede electrónica.",
			want: time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "antes del spelled month",
			text: "Presentar la documentación antes del 5 de octubre de 2026.",
			want: time.Date(2026, time.October, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "plazo with trailing date",
			text: "El plazo de presentación finaliza el 15/09/2026.",
			want: time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "antes de without l",
			text: "antes de 1 de enero de 2027",
			want: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "plazo with intervening digits",
			text: "El plazo de 20 días naturales concluye el 15/09/2026.",
			want: time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := Date(tc.text)
			require.True(t, m.Found, "expected a match")
			assert.Equal(t, tc.want, m.When)
		})
	}
}

// TestDateFirstMatchWins checks rule order: "hasta el" beats a later
// "plazo" phrasing in the same text.
func TestDateFirstMatchWins(t *testing.T) {
	t.Parallel()

	text := "hasta el 01/02/2026; el plazo general termina el 28/02/2026"
	m := Date(text)
	require.True(t, m.Found)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), m.When)
}

// TestDateNoMatch verifies unmatched text yields the NoMatch variant.
func TestDateNoMatch(t *testing.T) {
	t.Parallel()

	m := Date("convocatoria abierta de forma permanente")
	assert.False(t, m.Found)
	assert.True(t, m.When.IsZero())
}

// TestDateRejectsImpossibleCalendarDates guards against silent rollover.
func TestDateRejectsImpossibleCalendarDates(t *testing.T) {
	t.Parallel()

	m := Date("hasta el 31/02/2026")
	assert.False(t, m.Found)
}

// TestDeadlineDefaultsToThreeMonths checks the provisional fallback.
func TestDeadlineDefaultsToThreeMonths(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	when, confident := Deadline("sin fecha publicada", now)
	assert.False(t, confident)
	assert.Equal(t, now.AddDate(0, 3, 0), when)
}

// TestDeadlineUsesExtractedDate checks the confident path.
func TestDeadlineUsesExtractedDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
	when, confident := Deadline("hasta el 20/06/2026", now)
	assert.True(t, confident)
	assert.Equal(t, time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC), when)
}
