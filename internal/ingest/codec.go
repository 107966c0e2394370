package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"alerteval/internal/domain"
)

const maxPooledBatchCapacity = 256

type decodeScratch struct {
	results []domain.QueryResult
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{results: make([]domain.QueryResult, 0, 4)}
	},
}

// decodeSingleResult decodes one query result and rejects trailing JSON tokens.
// Params: json decoder for a single result object.
// Returns: validated result or decode error.
func decodeSingleResult(decoder *json.Decoder) (domain.QueryResult, error) {
	result, err := domain.DecodeQueryResultReader(decoder)
	if err != nil {
		return domain.QueryResult{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.QueryResult{}, err
	}
	return result, nil
}

// decodeResultPayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated results; the slice is owned by the caller.
func decodeResultPayload(raw []byte) ([]domain.QueryResult, error) {
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	results, err := decodeResultPayloadInto(raw, scratch)
	if err != nil {
		return nil, err
	}
	return append([]domain.QueryResult(nil), results...), nil
}

func decodeResultPayloadInto(raw []byte, scratch *decodeScratch) ([]domain.QueryResult, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchResultsInto(decoder, scratch)
	}
	result, err := decodeSingleResult(decoder)
	if err != nil {
		return nil, err
	}
	results := scratch.results[:0]
	results = append(results, result)
	scratch.results = results
	return results, nil
}

func decodeBatchResultsInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.QueryResult, error) {
	results := scratch.results[:0]
	if err := decoder.Decode(&results); err != nil {
		return nil, fmt.Errorf("decode query result batch: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("query result batch must contain at least one result")
	}
	for i := range results {
		if err := results[i].Validate(); err != nil {
			return nil, fmt.Errorf("result[%d]: %w", i, err)
		}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.results = results
	return results, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.results {
		scratch.results[i] = domain.QueryResult{}
	}
	if cap(scratch.results) > maxPooledBatchCapacity {
		scratch.results = make([]domain.QueryResult, 0, 4)
	} else {
		scratch.results = scratch.results[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// pushResults sends results to sink with optional batch support.
// Params: result sink and result slice.
// Returns: first push error or nil.
func pushResults(sink ResultSink, results []domain.QueryResult) error {
	if len(results) == 0 {
		return nil
	}
	if batchSink, ok := sink.(batchResultSink); ok {
		return batchSink.PushBatch(results)
	}
	for _, result := range results {
		if err := sink.Push(result); err != nil {
			return err
		}
	}
	return nil
}
