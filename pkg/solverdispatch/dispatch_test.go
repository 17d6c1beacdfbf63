package solverdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// fakeClient routes requests to a per-endpoint handler so tests can
// simulate a mix of solved, empty, and erroring solvers without a real
// network.
type fakeClient struct {
	handlers map[string]func(*http.Request) (*http.Response, error)
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	h, ok := f.handlers[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return h(req)
}

func jsonResponse(status int, body interface{}) (*http.Response, error) {
	b, _ := json.Marshal(body)
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestDispatchClassifiesEachSolver(t *testing.T) {
	client := &fakeClient{handlers: map[string]func(*http.Request) (*http.Response, error){
		"http://solver-a": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, Solution{Score: &SolverScore{Value: "100"}})
		},
		"http://solver-b": func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil))}, nil
		},
		"http://solver-c": func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(bytes.NewReader(nil))}, nil
		},
	}}

	d := New(client, zap.NewNop().Sugar(), []Solver{
		{Name: "a", Endpoint: "http://solver-a"},
		{Name: "b", Endpoint: "http://solver-b"},
		{Name: "c", Endpoint: "http://solver-c"},
	})

	results, err := d.Dispatch(context.Background(), domain.Auction{ID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Solver.Name] = r
	}

	if byName["a"].Outcome != OutcomeSolved {
		t.Errorf("solver a: got %s want solved", byName["a"].Outcome)
	}
	if byName["a"].Solution == nil || byName["a"].Solution.Score.Value != "100" {
		t.Errorf("solver a solution missing or wrong score: %+v", byName["a"].Solution)
	}
	if byName["b"].Outcome != OutcomeEmpty {
		t.Errorf("solver b: got %s want empty", byName["b"].Outcome)
	}
	if byName["c"].Outcome != OutcomeError {
		t.Errorf("solver c: got %s want error", byName["c"].Outcome)
	}
}

func TestDispatchDecodesProposedTrades(t *testing.T) {
	client := &fakeClient{handlers: map[string]func(*http.Request) (*http.Response, error){
		"http://solver-a": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]interface{}{
				"trades": []ProposedTrade{{
					OrderUID:  "0xdeadbeef",
					Executed:  "100",
					SellPrice: "1",
					BuyPrice:  "2",
				}},
				"score": map[string]string{"score": "100"},
			})
		},
	}}

	d := New(client, zap.NewNop().Sugar(), []Solver{{Name: "a", Endpoint: "http://solver-a"}})

	results, err := d.Dispatch(context.Background(), domain.Auction{ID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeSolved {
		t.Fatalf("expected a solved result, got %+v", results)
	}
	if len(results[0].Solution.Trades) != 1 {
		t.Fatalf("expected 1 decoded proposed trade, got %d", len(results[0].Solution.Trades))
	}
	if results[0].Solution.Trades[0].OrderUID != "0xdeadbeef" {
		t.Errorf("order uid: got %s want 0xdeadbeef", results[0].Solution.Trades[0].OrderUID)
	}
	if len(results[0].Solution.Raw) == 0 {
		t.Error("expected Raw to retain the full response body")
	}
}

func TestDispatchTimeout(t *testing.T) {
	client := &fakeClient{handlers: map[string]func(*http.Request) (*http.Response, error){
		"http://slow-solver": func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		},
	}}

	d := New(client, zap.NewNop().Sugar(), []Solver{{Name: "slow", Endpoint: "http://slow-solver"}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results, err := d.Dispatch(ctx, domain.Auction{ID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeTimeout {
		t.Fatalf("expected a single timeout result, got %+v", results)
	}
}

func TestDispatchDedupsConcurrentRoundsForSameAuction(t *testing.T) {
	calls := 0
	client := &fakeClient{handlers: map[string]func(*http.Request) (*http.Response, error){
		"http://solver-a": func(*http.Request) (*http.Response, error) {
			calls++
			time.Sleep(10 * time.Millisecond)
			return jsonResponse(http.StatusOK, Solution{})
		},
	}}
	d := New(client, zap.NewNop().Sugar(), []Solver{{Name: "a", Endpoint: "http://solver-a"}})

	var r1, r2 []Result
	done := make(chan struct{}, 2)
	go func() { r1, _ = d.Dispatch(context.Background(), domain.Auction{ID: 5}); done <- struct{}{} }()
	go func() { r2, _ = d.Dispatch(context.Background(), domain.Auction{ID: 5}); done <- struct{}{} }()
	<-done
	<-done

	if calls != 1 {
		t.Errorf("expected the concurrent dispatch rounds to share one outbound call, got %d", calls)
	}
	if len(r1) != 1 || len(r2) != 1 {
		t.Errorf("expected both callers to receive the shared result")
	}
}
