package outbox

import "example.com/healthmetrics/internal/events"

// schemaCatalog maps each publishable event type to the JSON schema registered for its subject.
var schemaCatalog = map[string]string{
	events.TypeBatchIngested: batchIngestedSchema,
}

const batchIngestedSchema = `{
  "type": "object",
  "title": "BatchIngested",
  "properties": {
    "batch_id": {"type": "string"},
    "record_count": {"type": "integer", "minimum": 1},
    "user_ids": {"type": "array", "items": {"type": "integer"}},
    "first_timestamp": {"type": "string", "format": "date-time"},
    "last_timestamp": {"type": "string", "format": "date-time"},
    "ingested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["batch_id", "record_count", "user_ids", "first_timestamp", "last_timestamp", "ingested_at"],
  "additionalProperties": false
}`
