// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/cache"
	"github.com/traylinx/converse/internal/complexity"
	"github.com/traylinx/converse/internal/decision"
	"github.com/traylinx/converse/internal/executor"
	"github.com/traylinx/converse/internal/quality"
)

const goodDNSAnswer = "DNS resolution maps a hostname to an ip address and here is how the lookup works. " +
	"The resolver first checks its own cache for a fresh record of the name. " +
	"On a miss it asks the configured recursive server, which walks from the root servers " +
	"down through the authoritative servers for the zone until one returns the address record. " +
	"Every response carries a time to live that bounds how long the resolver keeps the record."

const badDraft = "the answer is the answer is the answer is the answer is " +
	"the answer is the answer is the answer is the answer is the answer is and"

// hybridQuery carries enough reasoning and technical vocabulary to land in
// the mid complexity band, where routing runs local first with a cloud
// fallback.
const hybridQuery = "Explain how recursive DNS resolution works across root and authoritative servers " +
	"and compare the caching tradeoffs of a distributed architecture step by step."

const goodCloudAnswer = "Recursive DNS resolution works step by step across a distributed architecture. " +
	"First the resolver checks its local cache, then it queries a recursive server, which walks from " +
	"the root servers through the authoritative servers for the zone until an address record comes back. " +
	"Caching tradeoffs compare freshness against load: a long time to live cuts upstream traffic, " +
	"while a short one keeps records current across the system."

// stubAdapter returns a fixed body as a single stream chunk.
type stubAdapter struct {
	id      string
	body    string
	failure error

	mu    sync.Mutex
	calls int
}

func (a *stubAdapter) Identifier() string { return a.id }

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *stubAdapter) Query(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if a.failure != nil {
		return nil, a.failure
	}
	return &backend.Response{
		Choices: []backend.Choice{{Message: backend.Message{Role: backend.RoleAssistant, Content: a.body}}},
	}, nil
}

func (a *stubAdapter) QueryStream(ctx context.Context, req backend.Request) (<-chan backend.StreamChunk, error) {
	if a.failure != nil {
		return nil, a.failure
	}
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	ch := make(chan backend.StreamChunk, 1)
	stop := "stop"
	ch <- backend.StreamChunk{
		Choices: []backend.StreamChoice{{Delta: backend.Delta{Content: a.body}, FinishReason: &stop}},
	}
	close(ch)
	return ch, nil
}

func newTestService(t *testing.T, local, cloud backend.Adapter, withCache bool) *Service {
	t.Helper()

	descriptors := []backend.Descriptor{}
	if local != nil {
		descriptors = append(descriptors, backend.Descriptor{ID: "local", Provider: "ollama", Model: "llama3.2:3b", Local: true, BaseLatencyMs: 200})
	}
	if cloud != nil {
		descriptors = append(descriptors, backend.Descriptor{ID: "cloud", Provider: "openai-compat", Model: "gpt-4.1", CostPer1KTokens: 0.01, BaseLatencyMs: 900})
	}
	registry := backend.NewRegistry(descriptors)
	if local != nil {
		registry.RegisterAdapter("local", local)
	}
	if cloud != nil {
		registry.RegisterAdapter("cloud", cloud)
	}

	var respCache *cache.ResponseCache
	if withCache {
		respCache = cache.New(cache.Config{}, nil)
	}

	return NewService(Options{
		Registry:  registry,
		Estimator: complexity.NewEstimator(nil),
		Engine:    decision.NewEngine(registry, decision.DefaultThresholds(), nil, nil, nil),
		Executor:  executor.NewStreamingExecutor(registry, executor.DefaultMonitorConfig()),
		Validator: quality.NewValidator(quality.DefaultThresholds()),
		Cache:     respCache,
	})
}

func TestHandle_SimpleQueryStaysLocal(t *testing.T) {
	local := &stubAdapter{id: "local", body: goodDNSAnswer}
	cloud := &stubAdapter{id: "cloud", body: "cloud answer"}
	s := newTestService(t, local, cloud, false)

	a, err := s.Handle(context.Background(), Request{Query: "Explain how DNS resolution works."}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.BackendID != "local" {
		t.Errorf("backend = %s, want local", a.BackendID)
	}
	if a.Escalated {
		t.Error("passing local answer should not escalate")
	}
	if a.Quality == nil || !a.Quality.Passed {
		t.Errorf("quality gate should pass: %+v", a.Quality)
	}
	if cloud.callCount() != 0 {
		t.Errorf("cloud called %d times, want 0", cloud.callCount())
	}
}

func TestHandle_FailedGateEscalatesToCloud(t *testing.T) {
	local := &stubAdapter{id: "local", body: badDraft}
	cloud := &stubAdapter{id: "cloud", body: goodCloudAnswer}
	s := newTestService(t, local, cloud, false)

	var streamed strings.Builder
	a, err := s.Handle(context.Background(), Request{Query: hybridQuery}, func(c backend.StreamChunk) {
		streamed.WriteString(c.Content())
	})
	if err != nil {
		t.Fatal(err)
	}

	if a.Strategy != decision.StrategyHybrid {
		t.Fatalf("strategy = %s, want hybrid", a.Strategy)
	}
	if !a.Escalated {
		t.Fatal("low-quality local draft should escalate")
	}
	if a.BackendID != "cloud" {
		t.Errorf("final backend = %s, want cloud", a.BackendID)
	}
	if a.Quality == nil || !a.Quality.Passed {
		t.Errorf("escalated answer should pass the gate: %+v", a.Quality)
	}
	if !strings.Contains(streamed.String(), escalationMarker) {
		t.Error("escalation marker missing from stream")
	}
	if cloud.callCount() != 1 {
		t.Errorf("cloud called %d times, want 1", cloud.callCount())
	}
}

func TestHandle_EscalationCarriesDraftContext(t *testing.T) {
	local := &stubAdapter{id: "local", body: badDraft}
	recorder := &recordingAdapter{stubAdapter: stubAdapter{id: "cloud", body: goodCloudAnswer}}
	s := newTestService(t, local, recorder, false)

	if _, err := s.Handle(context.Background(), Request{Query: hybridQuery}, nil); err != nil {
		t.Fatal(err)
	}

	if len(recorder.requests) != 1 {
		t.Fatalf("cloud requests = %d, want 1", len(recorder.requests))
	}
	msgs := recorder.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("escalation request has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != backend.RoleAssistant || !strings.Contains(msgs[1].Content, "the answer is") {
		t.Error("rejected draft missing from escalation context")
	}
	if msgs[2].Role != backend.RoleUser || !strings.Contains(msgs[2].Content, "did not meet quality requirements") {
		t.Error("improvement instruction missing")
	}
}

// recordingAdapter captures every request passed to QueryStream.
type recordingAdapter struct {
	stubAdapter
	requests []backend.Request
}

func (a *recordingAdapter) QueryStream(ctx context.Context, req backend.Request) (<-chan backend.StreamChunk, error) {
	a.requests = append(a.requests, req)
	return a.stubAdapter.QueryStream(ctx, req)
}

func TestHandle_LocalOnlyDraftReturnsAsIs(t *testing.T) {
	local := &stubAdapter{id: "local", body: badDraft}
	cloud := &stubAdapter{id: "cloud", body: goodCloudAnswer}
	s := newTestService(t, local, cloud, false)

	// A simple query routes local-only; that strategy has no escalation
	// path even when the draft fails the gate.
	a, err := s.Handle(context.Background(), Request{Query: "What is DNS?"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.Strategy != decision.StrategyLocalOnly {
		t.Fatalf("strategy = %s, want local-only", a.Strategy)
	}
	if a.Decision != nil && a.Decision.Forced {
		t.Fatal("plain simple query should not be a forced decision")
	}
	if a.Escalated {
		t.Error("local-only run must not escalate on gate failure")
	}
	if a.Content != badDraft {
		t.Error("caller should receive the local answer as-is")
	}
	if cloud.callCount() != 0 {
		t.Errorf("cloud called %d times, want 0", cloud.callCount())
	}
}

func TestHandle_SensitiveQueryForcedLocal(t *testing.T) {
	local := &stubAdapter{id: "local", body: goodDNSAnswer}
	cloud := &stubAdapter{id: "cloud", body: "cloud answer"}
	s := newTestService(t, local, cloud, false)

	a, err := s.Handle(context.Background(), Request{
		Query: "My SSN is 123-45-6789, explain how DNS resolution works anyway.",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.BackendID != "local" {
		t.Errorf("backend = %s, want local", a.BackendID)
	}
	if a.Decision == nil || !a.Decision.Forced {
		t.Error("sensitive query decision should be forced")
	}
	if cloud.callCount() != 0 {
		t.Error("sensitive query must never reach the cloud")
	}
}

func TestHandle_SensitiveQueryNeverEscalates(t *testing.T) {
	local := &stubAdapter{id: "local", body: badDraft}
	cloud := &stubAdapter{id: "cloud", body: goodDNSAnswer}
	s := newTestService(t, local, cloud, false)

	a, err := s.Handle(context.Background(), Request{
		Query: "My SSN is 123-45-6789, explain how DNS resolution works anyway.",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.Escalated {
		t.Fatal("forced-local query escalated to the cloud")
	}
	if a.Quality != nil && a.Quality.Passed {
		t.Error("bad draft should still fail the gate")
	}
	if a.Content != badDraft {
		t.Error("caller should receive the local draft as-is")
	}
	if cloud.callCount() != 0 {
		t.Error("sensitive query must never reach the cloud")
	}
}

func TestHandle_CacheRoundTrip(t *testing.T) {
	local := &stubAdapter{id: "local", body: goodDNSAnswer}
	cloud := &stubAdapter{id: "cloud", body: "cloud answer"}
	s := newTestService(t, local, cloud, true)

	req := Request{Query: "Explain how DNS resolution works."}

	first, err := s.Handle(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Fatal("first query should miss the cache")
	}

	var streamed strings.Builder
	second, err := s.Handle(context.Background(), req, func(c backend.StreamChunk) {
		streamed.WriteString(c.Content())
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Fatal("repeat query should hit the cache")
	}
	if second.Content != goodDNSAnswer {
		t.Error("cached content does not match the original answer")
	}
	if streamed.String() != goodDNSAnswer {
		t.Error("cached answer should still stream to the caller")
	}
	if local.callCount() != 1 {
		t.Errorf("local called %d times, want 1", local.callCount())
	}

	m := s.GetMetrics()
	if m["cache_hits"].(int64) != 1 {
		t.Errorf("cache_hits = %v, want 1", m["cache_hits"])
	}
}

func TestHandle_SensitiveQueryNotCached(t *testing.T) {
	local := &stubAdapter{id: "local", body: goodDNSAnswer}
	s := newTestService(t, local, &stubAdapter{id: "cloud", body: "x"}, true)

	req := Request{Query: "My SSN is 123-45-6789, explain how DNS resolution works anyway."}
	if _, err := s.Handle(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Handle(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}

	if local.callCount() != 2 {
		t.Errorf("local called %d times, want 2 (no caching)", local.callCount())
	}
}

func TestHandle_AbortReturnsPartialAnswer(t *testing.T) {
	local := &slowAdapter{id: "local", chunks: 50}
	s := newTestService(t, local, &stubAdapter{id: "cloud", body: "x"}, false)

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	a, err := s.Handle(ctx, Request{Query: "Explain how DNS resolution works."}, func(backend.StreamChunk) {
		count++
		if count == 3 {
			cancel()
		}
	})

	if !errors.Is(err, executor.ErrRequestAborted) {
		t.Fatalf("err = %v, want ErrRequestAborted", err)
	}
	if a == nil || a.Content == "" {
		t.Fatal("aborted request should still return the partial answer")
	}

	if s.GetMetrics()["aborted"].(int64) != 1 {
		t.Errorf("aborted counter = %v, want 1", s.GetMetrics()["aborted"])
	}
}

// slowAdapter streams many small chunks and ignores ctx while sending, so the
// consumer controls termination.
type slowAdapter struct {
	id     string
	chunks int
}

func (a *slowAdapter) Identifier() string { return a.id }

func (a *slowAdapter) Query(ctx context.Context, req backend.Request) (*backend.Response, error) {
	return nil, backend.ErrBackendUnavailable
}

func (a *slowAdapter) QueryStream(ctx context.Context, req backend.Request) (<-chan backend.StreamChunk, error) {
	ch := make(chan backend.StreamChunk)
	go func() {
		defer close(ch)
		for i := 0; i < a.chunks; i++ {
			ch <- backend.StreamChunk{
				Choices: []backend.StreamChoice{{Delta: backend.Delta{Content: "chunk text here "}}},
			}
		}
	}()
	return ch, nil
}

func TestHandle_NoLocalBackendFallsBackToCloud(t *testing.T) {
	cloud := &stubAdapter{id: "cloud", body: goodDNSAnswer}
	s := newTestService(t, nil, cloud, false)

	// A simple query would normally route local; with no local backend the
	// conservative default delegates instead of failing the request.
	a, err := s.Handle(context.Background(), Request{Query: "Explain how DNS resolution works."}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.BackendID != "cloud" {
		t.Errorf("backend = %s, want cloud", a.BackendID)
	}
	if a.Strategy != decision.StrategyDelegate {
		t.Errorf("strategy = %s, want delegate", a.Strategy)
	}
}

func TestHandle_SensitiveWithoutLocalFails(t *testing.T) {
	cloud := &stubAdapter{id: "cloud", body: goodDNSAnswer}
	s := newTestService(t, nil, cloud, false)

	_, err := s.Handle(context.Background(), Request{
		Query: "My SSN is 123-45-6789, what should I do?",
	}, nil)
	if err == nil {
		t.Fatal("sensitive query with no local backend must fail, not route to cloud")
	}
	if cloud.callCount() != 0 {
		t.Error("sensitive query reached the cloud")
	}
}

func TestHandle_ConcurrentQueries(t *testing.T) {
	local := &stubAdapter{id: "local", body: goodDNSAnswer}
	cloud := &stubAdapter{id: "cloud", body: goodDNSAnswer}
	s := newTestService(t, local, cloud, true)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Handle(context.Background(), Request{Query: "Explain how DNS resolution works."}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := s.GetMetrics()["handled"].(int64); got != 8 {
		t.Errorf("handled = %v, want 8", got)
	}
}

func TestBuildMessages(t *testing.T) {
	req := Request{
		Query: "and what about IPv6?",
		Context: []complexity.Turn{
			{Role: "user", Content: "Explain DNS."},
			{Role: "assistant", Content: "DNS maps names to addresses."},
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "Explain DNS." || msgs[2].Content != "and what about IPv6?" {
		t.Error("context order not preserved")
	}
	if msgs[2].Role != backend.RoleUser {
		t.Errorf("final role = %s, want user", msgs[2].Role)
	}
}
