package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"zombidef.ai/internal/persistence/turnlog"
	"zombidef.ai/internal/scheduler"
)

type roundTotals struct {
	name          string
	turns         int
	lastTurn      int
	points        int
	acceptedBuild int
	plannedBuild  int
	attacks       int
	rejected      int
	skipped       int
	submitErrs    int
}

func main() {
	var (
		dir   = flag.String("dir", "./data/turns", "directory containing turns-*.jsonl.zst")
		round = flag.String("round", "", "only this round (optional)")
		quiet = flag.Bool("quiet", false, "print totals only")
	)
	flag.Parse()

	files, err := turnlog.List(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list turn logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no turn logs found in", *dir)
		os.Exit(1)
	}

	var order []string
	totals := map[string]*roundTotals{}
	get := func(name string) *roundTotals {
		t, ok := totals[name]
		if !ok {
			t = &roundTotals{name: name}
			totals[name] = t
			order = append(order, name)
		}
		return t
	}

	for _, path := range files {
		err := turnlog.ReadFile(path, func(e turnlog.Entry) error {
			switch {
			case e.Join != nil:
				if *round != "" && e.Join.Round != *round {
					return nil
				}
				get(e.Join.Round)
				if !*quiet {
					fmt.Printf("%s join round=%s starts_in=%ds\n", e.Join.JoinedAt.Format("15:04:05"), e.Join.Round, e.Join.StartsIn)
				}
			case e.Turn != nil:
				if *round != "" && e.Turn.Round != *round {
					return nil
				}
				add(get(e.Turn.Round), *e.Turn)
				if !*quiet {
					printTurn(*e.Turn)
				}
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}

	for _, name := range order {
		t := totals[name]
		fmt.Printf("round=%s turns=%d last_turn=%d points=%d build=%d/%d attacks=%d rejected=%d skipped=%d submit_errors=%d\n",
			t.name, t.turns, t.lastTurn, t.points, t.acceptedBuild, t.plannedBuild, t.attacks, t.rejected, t.skipped, t.submitErrs)
	}
}

func add(t *roundTotals, r scheduler.TurnRecord) {
	t.turns++
	if r.Turn > t.lastTurn {
		t.lastTurn = r.Turn
	}
	if r.Points > t.points {
		t.points = r.Points
	}
	t.acceptedBuild += r.AcceptedBuild
	t.plannedBuild += r.PlannedBuild
	t.attacks += r.AcceptedAttack
	t.rejected += r.Rejected()
	if r.Skipped {
		t.skipped++
	}
	if r.SubmitError != "" {
		t.submitErrs++
	}
}

func printTurn(r scheduler.TurnRecord) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s turn=%d gold=%d points=%d structures=%d zombies=%d enemies=%d build=%d/%d/%d attack=%d/%d",
		r.FetchedAt.Format("15:04:05.000"), r.Turn, r.Gold, r.Points, r.Structures, r.Zombies, r.Enemies,
		r.AcceptedBuild, r.PlannedBuild, r.Candidates, r.AcceptedAttack, r.PlannedAttack)
	if r.Skipped {
		b.WriteString(" skipped")
	}
	if r.SubmitError != "" {
		fmt.Fprintf(&b, " submit_error=%q", r.SubmitError)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, " rejected=%q", e)
	}
	fmt.Println(b.String())
}
