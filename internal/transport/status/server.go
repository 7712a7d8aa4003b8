// Package status serves the bot's local status endpoints and live turn feed.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zombidef.ai/internal/persistence/indexdb"
	"zombidef.ai/internal/scheduler"
)

type StatusSource interface {
	Status() scheduler.Status
}

// RoundIndex answers per-round history queries.
type RoundIndex interface {
	Rounds(ctx context.Context, limit int) ([]indexdb.RoundSummary, error)
	Stats() indexdb.Stats
}

type Options struct {
	Scheduler StatusSource
	Hub       *Hub
	// Index is optional; /v1/rounds answers 404 without it.
	Index RoundIndex
	Log   *log.Logger
}

func NewRouter(o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, o)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
			respondJSON(rw, http.StatusOK, o.Scheduler.Status())
		})
		r.Get("/turns", func(rw http.ResponseWriter, r *http.Request) {
			var recent []scheduler.TurnRecord
			if o.Hub != nil {
				recent = o.Hub.Recent()
			}
			if recent == nil {
				recent = []scheduler.TurnRecord{}
			}
			respondJSON(rw, http.StatusOK, recent)
		})
		r.Get("/rounds", func(rw http.ResponseWriter, r *http.Request) {
			if o.Index == nil {
				http.Error(rw, "index disabled", http.StatusNotFound)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rounds, err := o.Index.Rounds(r.Context(), limit)
			if err != nil {
				if o.Log != nil {
					o.Log.Printf("status: rounds query: %v", err)
				}
				http.Error(rw, "query failed", http.StatusInternalServerError)
				return
			}
			if rounds == nil {
				rounds = []indexdb.RoundSummary{}
			}
			respondJSON(rw, http.StatusOK, rounds)
		})
		if o.Hub != nil {
			r.Get("/ws", loopbackOnly(o.Hub.Handler()))
		}
	})
	return r
}

func respondJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

var phases = []scheduler.Phase{scheduler.Idle, scheduler.Discovering, scheduler.Joining, scheduler.AwaitingStart, scheduler.InRound}

func writeMetrics(rw http.ResponseWriter, o Options) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := o.Scheduler.Status()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP zombidef_bot_phase Current scheduler phase (1 for the active phase).\n")
	fmt.Fprintf(rw, "# TYPE zombidef_bot_phase gauge\n")
	for _, p := range phases {
		v := 0
		if st.Phase == p.String() {
			v = 1
		}
		fmt.Fprintf(rw, "zombidef_bot_phase{phase=%q} %d\n", p.String(), v)
	}

	gauge := func(name, help string, v int) {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n%s{round=%q} %d\n", name, help, name, name, st.Round, v)
	}
	gauge("zombidef_bot_turn", "Last played turn.", st.Turn)
	gauge("zombidef_bot_gold", "Gold at the last played turn.", st.Gold)
	gauge("zombidef_bot_points", "Points at the last played turn.", st.Points)
	gauge("zombidef_bot_structures", "Friendly structures at the last played turn.", st.Structures)

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	counter("zombidef_bot_joins_total", "Rounds joined.", st.Joins)
	counter("zombidef_bot_turns_total", "Turns played.", st.TurnsPlayed)
	counter("zombidef_bot_fetch_errors_total", "Failed fetch attempts.", st.FetchErrors)
	counter("zombidef_bot_cycle_errors_total", "Round cycles that ended in an error.", st.CycleErrors)

	if o.Hub != nil {
		fmt.Fprintf(rw, "# HELP zombidef_feed_clients Connected live feed viewers.\n# TYPE zombidef_feed_clients gauge\n")
		fmt.Fprintf(rw, "zombidef_feed_clients %d\n", o.Hub.Clients())
		counter("zombidef_feed_dropped_total", "Feed messages dropped for slow viewers.", o.Hub.Dropped())
	}
	if o.Index != nil {
		is := o.Index.Stats()
		fmt.Fprintf(rw, "# HELP zombidef_index_queue_depth Index writer backlog.\n# TYPE zombidef_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "zombidef_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP zombidef_index_dropped_total Records dropped by the index writer.\n# TYPE zombidef_index_dropped_total counter\n")
		fmt.Fprintf(rw, "zombidef_index_dropped_total{kind=%q} %d\n", "join", is.DropJoinTotal)
		fmt.Fprintf(rw, "zombidef_index_dropped_total{kind=%q} %d\n", "turn", is.DropTurnTotal)
		counter("zombidef_index_write_errors_total", "Index write errors.", is.WriteErrTotal)
	}
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve runs the status server on addr until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Printf("status listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
