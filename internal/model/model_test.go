package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRangeExtend(t *testing.T) {
	var r DateRange

	r.Extend(time.Time{})
	assert.True(t, r.Start.IsZero())
	assert.True(t, r.End.IsZero())

	mid := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	r.Extend(mid)
	assert.Equal(t, mid, r.Start)
	assert.Equal(t, mid, r.End)

	earlier := mid.AddDate(0, -2, 0)
	later := mid.AddDate(0, 1, 0)
	r.Extend(later)
	r.Extend(earlier)
	assert.Equal(t, earlier, r.Start)
	assert.Equal(t, later, r.End)
}

func TestIngestReportEntity(t *testing.T) {
	rpt := &IngestReport{}

	rpt.Entity("people").Created++
	rpt.Entity("people").Created++
	rpt.Entity("animals").Updated++

	assert.Equal(t, 2, rpt.Entities["people"].Created)
	assert.Equal(t, 1, rpt.Entities["animals"].Updated)
	assert.Equal(t, 0, rpt.Entities["people"].Updated)
}

func TestIngestReportCountStage(t *testing.T) {
	rpt := &IngestReport{}
	rpt.CountStage(StageInserted)
	rpt.CountStage(StageInserted)
	rpt.CountStage(StageUpdated)
	rpt.CountStage(StageSkipped)

	assert.Equal(t, 4, rpt.RowsTotal)
	assert.Equal(t, 2, rpt.RowsInserted)
	assert.Equal(t, 1, rpt.RowsUpdated)
	assert.Equal(t, 1, rpt.RowsSkipped)
}

func TestIngestReportJSONShape(t *testing.T) {
	rpt := &IngestReport{
		UploadID:     "u-1",
		SourceSystem: "clinic",
		SourceTable:  "cat_info",
	}
	rpt.CountStage(StageInserted)
	rpt.Entity("animals").Created = 3
	rpt.Warn("row 7: unparseable date")
	rpt.Post.Passes = append(rpt.Post.Passes, PassResult{Name: "animal_places", Affected: 2})

	raw, err := json.Marshal(rpt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "clinic", decoded["source_system"])
	assert.Equal(t, float64(1), decoded["rows_total"])
	assert.Contains(t, decoded, "entities")
	assert.Contains(t, decoded, "post_processing")
	assert.NotContains(t, decoded, "date_range")

	post := decoded["post_processing"].(map[string]any)
	assert.Len(t, post["passes"], 1)
	assert.Len(t, post["warnings"], 1)
}

func TestRequestStatusOpen(t *testing.T) {
	open := []RequestStatus{RequestNew, RequestNeedsReview, RequestActive, RequestScheduled, RequestInProgress, RequestPaused}
	for _, s := range open {
		assert.True(t, s.Open(), "status %s should be open", s)
	}
	assert.False(t, RequestResolved.Open())
	assert.False(t, RequestClosed.Open())
}

func TestProcedureKindOpposite(t *testing.T) {
	assert.Equal(t, ProcNeuter, ProcSpay.Opposite())
	assert.Equal(t, ProcSpay, ProcNeuter.Opposite())
}

func TestMatchCandidateTierLabel(t *testing.T) {
	tests := []struct {
		confidence float64
		tier       int
	}{
		{1.0, 0},
		{0.95, 0},
		{0.90, 1},
		{0.80, 1},
		{0.60, 2},
		{0.50, 2},
		{0.45, 3},
	}
	for _, tt := range tests {
		c := MatchCandidate{Confidence: tt.confidence}
		assert.Equal(t, tt.tier, c.TierLabel(), "confidence %v", tt.confidence)
	}
}
