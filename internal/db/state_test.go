package db

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, InitializeSchema(conn))
	return conn
}

func TestInitializeSchemaIsIdempotent(t *testing.T) {
	conn := openTestDB(t)
	assert.NoError(t, InitializeSchema(conn))
}

func TestComputeHealth(t *testing.T) {
	g, y, r := StatusGreen, StatusYellow, StatusRed
	tests := []struct {
		name     string
		previous []string
		current  string
		want     int
	}{
		{"first green", nil, g, 1},
		{"first red", nil, r, 0},
		{"mixed history", []string{g, y, g, r}, g, 3},
		{"window caps at nine", []string{g, g, g, g, g, g, g, g, g, g, g}, g, 10},
		{"window ignores older rows", []string{r, r, r, r, r, r, r, r, r, g}, y, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHealth(tt.previous, tt.current))
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusGreen, StatusFor(MarkSuccess))
	assert.Equal(t, StatusYellow, StatusFor(MarkBusiness))
	assert.Equal(t, StatusRed, StatusFor(MarkApplication))
}

func TestRecordOutcomeTracksHealth(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	marks := []string{MarkSuccess, MarkBusiness, MarkSuccess, MarkApplication, MarkSuccess}
	var healths []int
	for i, m := range marks {
		h, err := RecordOutcome(ctx, conn, Transaction{
			RunID:    "run-1",
			Customer: "ACME0" + string(rune('1'+i)),
			MigType:  "PDOL",
			Started:  start,
			Finished: start.Add(90 * time.Second),
			Mark:     m,
		})
		require.NoError(t, err)
		healths = append(healths, h)
	}
	assert.Equal(t, []int{1, 1, 2, 2, 3}, healths)

	// Another type keeps its own window.
	h, err := RecordOutcome(ctx, conn, Transaction{RunID: "run-2", Customer: "X", MigType: "MLM", Started: start, Finished: start, Mark: MarkBusiness})
	require.NoError(t, err)
	assert.Equal(t, 0, h)

	txs, err := TransactionsForRun(ctx, conn, "run-1")
	require.NoError(t, err)
	require.Len(t, txs, 5)
	assert.Equal(t, "ACME01", txs[0].Customer)
	assert.Equal(t, MarkBusiness, txs[1].Mark)
}

func TestKPISummary(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, tx := range []Transaction{
		{RunID: "r", Customer: "A", MigType: "MLM", Started: start, Finished: start.Add(time.Minute), Mark: MarkSuccess, Missing: 3},
		{RunID: "r", Customer: "B", MigType: "MLM", Started: start, Finished: start.Add(3 * time.Minute), Mark: MarkBusiness, FailureStage: "exec_cmd", Message: "boom"},
		{RunID: "r", Customer: "C", MigType: "PDOL", Started: start, Finished: start.Add(time.Minute), Mark: MarkApplication},
	} {
		_, err := RecordOutcome(ctx, conn, tx)
		require.NoError(t, err)
	}

	kpis, err := KPISummary(ctx, conn)
	require.NoError(t, err)
	require.Len(t, kpis, 2)

	mlm := kpis[0]
	assert.Equal(t, "MLM", mlm.MigType)
	assert.Equal(t, 2, mlm.Total)
	assert.Equal(t, 1, mlm.Success)
	assert.Equal(t, 1, mlm.Business)
	assert.Equal(t, 3, mlm.Missing)
	assert.Equal(t, 2*time.Minute, mlm.AvgDuration)
	assert.Equal(t, StatusYellow, mlm.LastStatus)
	assert.Equal(t, 1, mlm.LastHealth)

	assert.Equal(t, 1, kpis[1].Application)
	assert.Equal(t, StatusRed, kpis[1].LastStatus)
}

func TestDisplayHistoryFilters(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	d := 1500 * time.Millisecond
	require.NoError(t, LogStageEvent(ctx, conn, "0123456789ab", "ACME01", "PDOL", "extract_archive", EventStageStart, "", nil))
	require.NoError(t, LogStageEvent(ctx, conn, "0123456789ab", "ACME01", "PDOL", "extract_archive", EventStageEnd, "", &d))
	require.NoError(t, LogStageEvent(ctx, conn, "0123456789ab", "ACME02", "PDOL", "", EventJobStart, "", nil))

	var out bytes.Buffer
	require.NoError(t, DisplayHistory(ctx, conn, &out, "ACME01", EventStageEnd, 10))
	s := out.String()
	assert.Contains(t, s, "Displayed 1 records.")
	assert.Contains(t, s, "1500")
	assert.Contains(t, s, "01234567 ")
	assert.NotContains(t, s, "ACME02")
}
