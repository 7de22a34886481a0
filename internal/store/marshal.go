package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/stocksync/internal/op"
)

// decodeRecords parses a stored JSON array of operation records.
//
// Elements that fail to decode or validate are logged and skipped. A value
// that is not a JSON array is returned as an error: the whole key is
// unreadable and the caller must not overwrite it blindly.
func decodeRecords(logger *slog.Logger, key string, data []byte) ([]op.Operation, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	ops := make([]op.Operation, 0, len(raw))
	for i, elem := range raw {
		var rec op.Operation
		if err := json.Unmarshal(elem, &rec); err != nil {
			logger.Warn("skipping corrupted queue record", "key", key, "index", i, "error", err)
			continue
		}
		upgradeRecord(&rec)
		if err := rec.Validate(); err != nil {
			logger.Warn("skipping corrupted queue record", "key", key, "index", i, "id", rec.ID, "error", err)
			continue
		}
		ops = append(ops, rec)
	}
	return ops, nil
}

// upgradeRecord fills fields absent from version 0 records, which were
// written as {id, url, options, retries} with an optional fetch-style
// options object.
func upgradeRecord(rec *op.Operation) {
	if rec.Version != 0 {
		return
	}
	if rec.Payload.Method == "" {
		rec.Payload.Method = "GET"
	}
	if rec.IdempotencyKey == "" && rec.ID != "" && rec.Target != "" {
		rec.IdempotencyKey = op.ContentKey(*rec)
	}
	rec.Version = op.RecordVersion
}

// encodeRecords serializes records as a JSON array, oldest first.
func encodeRecords(ops []op.Operation) ([]byte, error) {
	if ops == nil {
		ops = []op.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}
