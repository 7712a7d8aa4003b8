package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zombidef.ai/internal/protocol"
	"zombidef.ai/internal/ratelimit"
)

type recorded struct {
	method string
	path   string
	token  string
	body   string
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, token: r.Header.Get(protocol.AuthHeader), body: string(b)})
		h(rw, r)
	}))
	t.Cleanup(ts.Close)

	c, err := New(Config{
		BaseURL: ts.URL,
		Token:   "secret",
		Limiter: ratelimit.New(100, time.Second),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func TestClient_PathsMethodsAndAuth(t *testing.T) {
	c, calls := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rounds/zombidef":
			_, _ = rw.Write([]byte(`{"gameName":"defense","now":"2024-06-01T10:00:00Z","rounds":[{"name":"r1","status":"active","startAt":"2024-06-01T09:58:00Z","endAt":"2024-06-01T10:28:00Z","duration":1800,"repeat":1}]}`))
		case "/play/zombidef/participate":
			_, _ = rw.Write([]byte(`{"startsInSec":42}`))
		case "/play/zombidef/world":
			_, _ = rw.Write([]byte(`{"realmName":"realm","zpots":[{"x":1,"y":2,"type":"wall"}]}`))
		case "/play/zombidef/units":
			_, _ = rw.Write([]byte(`{"base":[{"id":"h","x":0,"y":0,"attack":40,"health":300,"isHead":true,"range":8}],"player":{"gold":3},"turn":7,"turnEndsInMs":1200}`))
		case "/play/zombidef/command":
			_, _ = rw.Write([]byte(`{"acceptedCommands":{"build":[{"x":1,"y":0}]},"errors":["bad target"]}`))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	rounds, err := c.ListRounds(ctx)
	if err != nil || len(rounds.Rounds) != 1 || rounds.Rounds[0].Name != "r1" {
		t.Fatalf("ListRounds: %v %+v", err, rounds)
	}
	join, err := c.JoinRound(ctx, "r1")
	if err != nil || join.StartsInSec != 42 {
		t.Fatalf("JoinRound: %v %+v", err, join)
	}
	world, err := c.FetchTerrain(ctx)
	if err != nil || len(world.Zpots) != 1 || world.Zpots[0].Type != "wall" {
		t.Fatalf("FetchTerrain: %v %+v", err, world)
	}
	units, err := c.FetchUnits(ctx)
	if err != nil || units.Turn != 7 || len(units.Base) != 1 || !units.Base[0].IsHead {
		t.Fatalf("FetchUnits: %v %+v", err, units)
	}
	resp, err := c.SubmitCommand(ctx, protocol.Command{
		Attack: []protocol.AttackOrder{},
		Build:  []protocol.Point{{X: 1, Y: 0}},
	})
	if err != nil || len(resp.AcceptedCommands.Build) != 1 || len(resp.Errors) != 1 {
		t.Fatalf("SubmitCommand: %v %+v", err, resp)
	}

	want := []struct{ method, path string }{
		{http.MethodGet, "/rounds/zombidef"},
		{http.MethodPut, "/play/zombidef/participate"},
		{http.MethodGet, "/play/zombidef/world"},
		{http.MethodGet, "/play/zombidef/units"},
		{http.MethodPost, "/play/zombidef/command"},
	}
	if len(*calls) != len(want) {
		t.Fatalf("calls=%+v", *calls)
	}
	for i, w := range want {
		got := (*calls)[i]
		if got.method != w.method || got.path != w.path || got.token != "secret" {
			t.Fatalf("call %d = %+v, want %s %s with token", i, got, w.method, w.path)
		}
	}

	var sent protocol.Command
	if err := json.Unmarshal([]byte((*calls)[4].body), &sent); err != nil {
		t.Fatalf("command body: %v", err)
	}
	if len(sent.Build) != 1 || sent.Build[0] != (protocol.Point{X: 1, Y: 0}) || sent.MoveBase != nil {
		t.Fatalf("sent=%+v", sent)
	}
}

func TestClient_TransportError(t *testing.T) {
	c, _ := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte(`{"errCode":24,"error":"player is not participating in this round"}`))
	})

	_, err := c.FetchTerrain(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusBadRequest {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, ErrNotParticipating) {
		t.Fatalf("expected ErrNotParticipating match")
	}
}

func TestClient_DecodeError(t *testing.T) {
	c, _ := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"startsInSec":`))
	})

	_, err := c.JoinRound(context.Background(), "r1")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if errors.Is(err, ErrNotParticipating) {
		t.Fatalf("decode errors are not participation errors")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{BaseURL: "games.example.com"}); err == nil {
		t.Fatalf("expected error for empty token")
	}
	c, err := New(Config{BaseURL: "games.example.com/", Token: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.base != "https://games.example.com" {
		t.Fatalf("base=%q", c.base)
	}
}
