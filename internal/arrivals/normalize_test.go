package arrivals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusunglee/busboard/internal/models"
)

func strPtr(s string) *string { return &s }

func at(hour, min, sec int) time.Time {
	return time.Date(2026, 10, 16, hour, min, sec, 0, time.UTC)
}

func TestNormalizeLiveArrival(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	rec := models.ArrivalRecord{
		LineID:           "205",
		Headsign:         "Centro",
		ScheduledArrival: strPtr("08:35:00"),
		EstimatedArrival: strPtr("08:32:00"),
		VehicleID:        strPtr("3102"),
		TripID:           strPtr("T-1"),
	}

	got, ok := n.Normalize(rec, at(8, 30, 0))
	require.True(t, ok)
	assert.Equal(t, 2, got.Minutes)
	assert.True(t, got.Live)
	assert.Equal(t, ColorPink, got.Color)
	assert.Equal(t, "08:32", got.Clock)
	assert.Equal(t, "Centro", got.Destination)
	assert.Equal(t, "3102", got.VehicleID)
	assert.Equal(t, "T-1", got.TripID)
}

func TestNormalizeScheduledOnly(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	rec := models.ArrivalRecord{LineID: "L4", ScheduledArrival: strPtr("08:40:30")}

	got, ok := n.Normalize(rec, at(8, 30, 0))
	require.True(t, ok)
	assert.Equal(t, 10, got.Minutes)
	assert.False(t, got.Live)
	assert.Equal(t, ColorDefault, got.Color)
}

func TestNormalizeDropsRecordsWithoutTime(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	records := []models.ArrivalRecord{
		{LineID: "5"},
		{LineID: "5", ScheduledArrival: strPtr(""), EstimatedArrival: strPtr("")},
		{LineID: "5", ScheduledArrival: strPtr("not a time")},
	}

	for _, rec := range records {
		_, ok := n.Normalize(rec, at(8, 30, 0))
		assert.False(t, ok)
	}
}

func TestNormalizePastThreshold(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	now := at(8, 30, 0)

	tests := []struct {
		clock   string
		keep    bool
		minutes int
	}{
		{"08:30:00", true, 0},
		{"08:29:30", true, -1},
		{"08:29:00", true, -1},
		{"08:28:59", false, 0},
		{"07:00:00", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			got, ok := n.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr(tt.clock)}, now)
			assert.Equal(t, tt.keep, ok)
			if ok {
				assert.Equal(t, tt.minutes, got.Minutes)
				assert.GreaterOrEqual(t, got.Minutes, MinMinutes)
			}
		})
	}
}

func TestNormalizeMidnightRollover(t *testing.T) {
	n := NewNormalizer(DefaultRollover())

	got, ok := n.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr("00:15:00")}, at(21, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 195, got.Minutes)
	assert.Equal(t, "00:15", got.Clock)

	// 20:30 is not past the late hour, so 00:15 stays today and is long gone
	_, ok = n.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr("00:15:00")}, at(20, 30, 0))
	assert.False(t, ok)

	// a custom policy moves the threshold
	custom := NewNormalizer(RolloverPolicy{LateHour: 19, EarlyHour: 2})
	got, ok = custom.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr("01:00:00")}, at(20, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 300, got.Minutes)
	_, ok = custom.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr("03:00:00")}, at(20, 0, 0))
	assert.False(t, ok)
}

func TestNormalizeHoursPastMidnight(t *testing.T) {
	n := NewNormalizer(DefaultRollover())

	got, ok := n.Normalize(models.ArrivalRecord{LineID: "1", ScheduledArrival: strPtr("24:10:00")}, at(23, 50, 0))
	require.True(t, ok)
	assert.Equal(t, 20, got.Minutes)
}

func TestMergeSortsStably(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	now := at(8, 30, 0)

	batches := [][]models.ArrivalRecord{
		{
			{LineID: "A", ScheduledArrival: strPtr("08:40:00")},
			{LineID: "B", ScheduledArrival: strPtr("08:35:00")},
			{LineID: "X"},
		},
		{
			{LineID: "C", EstimatedArrival: strPtr("08:35:20")},
			{LineID: "D", ScheduledArrival: strPtr("08:31:00")},
		},
	}

	got := n.Merge(batches, now)
	require.Len(t, got, 4)

	order := make([]string, len(got))
	for i, a := range got {
		order[i] = a.LineID
	}
	assert.Equal(t, []string{"D", "B", "C", "A"}, order)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Minutes, got[i].Minutes)
	}
}

func TestMergeEmpty(t *testing.T) {
	n := NewNormalizer(DefaultRollover())
	got := n.Merge(nil, at(8, 0, 0))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFilter(t *testing.T) {
	list := []models.DisplayArrival{
		{LineID: "205", Minutes: 1},
		{LineID: "744", Minutes: 2},
		{LineID: "205", Minutes: 5},
	}

	shown, allOut := Filter(list, map[string]bool{"205": true})
	assert.Len(t, shown, 2)
	assert.False(t, allOut)
	for _, a := range shown {
		assert.Equal(t, "205", a.LineID)
	}

	shown, allOut = Filter(list[1:2], map[string]bool{"205": true})
	assert.Empty(t, shown)
	assert.True(t, allOut)

	shown, allOut = Filter(nil, map[string]bool{"205": true})
	assert.Empty(t, shown)
	assert.False(t, allOut)
}

func TestLinesOf(t *testing.T) {
	list := []models.DisplayArrival{{LineID: "5"}, {LineID: "12"}, {LineID: "5"}}
	assert.Equal(t, []string{"5", "12"}, LinesOf(list))
}

func TestColor(t *testing.T) {
	tests := map[string]string{
		"1":   ColorRed,
		"15":  ColorRed,
		"205": ColorPink,
		"3":   ColorBlue,
		"4A":  ColorGreen,
		"5":   ColorDefault,
		"C1":  ColorDefault,
		"":    ColorDefault,
	}
	for line, want := range tests {
		assert.Equal(t, want, Color(line), "line %q", line)
	}
}
