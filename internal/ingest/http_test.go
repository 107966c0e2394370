package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"alerteval/internal/domain"
)

type httpTestSink struct {
	pushCalls  int
	batchCalls int
	results    []domain.QueryResult
	err        error
}

func (s *httpTestSink) Push(result domain.QueryResult) error {
	s.pushCalls++
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}

func (s *httpTestSink) PushBatch(results []domain.QueryResult) error {
	s.batchCalls++
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, results...)
	return nil
}

func TestHTTPHandlerAcceptsSingleResult(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(testResultJSON(42, "h1")))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.batchCalls != 1 || len(sink.results) != 1 {
		t.Fatalf("unexpected sink calls push=%d batch=%d results=%d", sink.pushCalls, sink.batchCalls, len(sink.results))
	}
}

func TestHTTPHandlerAcceptsBatchResults(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	payload := fmt.Sprintf("[%s,%s]", testResultJSON(42, "h1"), testResultJSON(43, "h2"))
	request := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(payload))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.pushCalls != 0 || sink.batchCalls != 1 {
		t.Fatalf("unexpected sink calls push=%d batch=%d", sink.pushCalls, sink.batchCalls)
	}
	if len(sink.results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(sink.results))
	}
}

func TestHTTPHandlerRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{name: "empty batch", body: "[]"},
		{name: "no result part", body: `{"alert_id":42,"namespace":"prod"}`},
		{name: "missing namespace", body: `{"alert_id":42,"summary":{"grid":{"start_sec":0,"end_sec":60,"interval_sec":60},"series":[]}}`},
		{name: "broken json", body: `{"alert_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sink := &httpTestSink{}
			handler := NewHTTPHandler(sink, 1<<20, nil)
			request := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(tc.body))
			response := httptest.NewRecorder()

			handler.ServeHTTP(response, request)
			if response.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
			}
			if sink.pushCalls != 0 || sink.batchCalls != 0 {
				t.Fatalf("unexpected sink calls push=%d batch=%d", sink.pushCalls, sink.batchCalls)
			}
		})
	}
}

func TestHTTPHandlerRejectsNonPost(t *testing.T) {
	t.Parallel()

	handler := NewHTTPHandler(&httpTestSink{}, 1<<20, nil)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/results", nil))
	if response.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, response.Code)
	}
}

func TestHTTPHandlerReturnsServiceUnavailableOnPushError(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{err: errors.New("sink unavailable")}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(testResultJSON(42, "h1")))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, response.Code)
	}
}

func TestHTTPHandlerRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 16, nil)
	request := httptest.NewRequest(http.MethodPost, "/results", strings.NewReader(testResultJSON(42, "h1")))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
	}
}

func testResultJSON(alertID int64, host string) string {
	return fmt.Sprintf(`{"alert_id":%d,"namespace":"prod","window":{"grid":{"start_sec":1700000000,"end_sec":1700000180,"interval_sec":60},"series":[{"tags":{"host":"%s"},"values":[1,null,3]}]}}`, alertID, host)
}
