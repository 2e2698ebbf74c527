package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEvent() BatchIngested {
	first := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	return BatchIngested{
		BatchID:        "b-1",
		RecordCount:    3,
		UserIDs:        []int64{1, 2},
		FirstTimestamp: first,
		LastTimestamp:  first.Add(time.Hour),
		IngestedAt:     first.Add(2 * time.Hour),
	}
}

func TestBatchIngestedValidate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	evt := validEvent()
	evt.BatchID = ""
	evt.RecordCount = 0
	evt.UserIDs = nil
	evt.LastTimestamp = evt.FirstTimestamp.Add(-time.Second)

	err := evt.Validate()
	require.ErrorContains(t, err, "batch_id is required")
	require.ErrorContains(t, err, "record_count must be positive")
	require.ErrorContains(t, err, "user_ids must not be empty")
	require.ErrorContains(t, err, "last_timestamp precedes first_timestamp")
}

func TestBatchIngestedJSONFieldNames(t *testing.T) {
	body, err := json.Marshal(validEvent())
	require.NoError(t, err)
	require.JSONEq(t, `{
		"batch_id": "b-1",
		"record_count": 3,
		"user_ids": [1, 2],
		"first_timestamp": "2025-01-01T08:00:00Z",
		"last_timestamp": "2025-01-01T09:00:00Z",
		"ingested_at": "2025-01-01T10:00:00Z"
	}`, string(body))
}
