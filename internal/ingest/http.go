package ingest

import (
	"io"
	"log/slog"
	"net/http"

	"alerteval/internal/domain"
)

// ResultSink receives decoded query results from ingest interfaces.
// Params: validated query result.
// Returns: processing error.
type ResultSink interface {
	Push(result domain.QueryResult) error
}

type batchResultSink interface {
	PushBatch(results []domain.QueryResult) error
}

// HTTPHandler decodes JSON query results and forwards them to sink.
// Params: sink receives validated results, max body limits payload size.
// Returns: HTTP handler for the results endpoint.
type HTTPHandler struct {
	sink        ResultSink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates results HTTP handler.
// Params: sink, max request body size in bytes, and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink ResultSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one result document or a batch of them.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/push result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	results, err := decodeResultPayloadInto(body, scratch)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("http results decode failed", "remote", request.RemoteAddr, "error", err.Error())
		}
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := pushResults(h.sink, results); err != nil {
		if h.logger != nil {
			h.logger.Error("http results push failed", "error", err.Error())
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
