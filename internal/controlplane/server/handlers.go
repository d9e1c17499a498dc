package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/events"
)

type accountSummary struct {
	Name  string             `json:"name"`
	State domain.WorkerState `json:"state,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.States == nil {
		// 独立进程模式：没有实时视图，只确认服务可用
		writeJSON(w, 200, map[string]any{"live": false})
		return
	}
	states := s.cfg.States()
	running := 0
	for _, st := range states {
		if st == domain.WorkerRunning {
			running++
		}
	}
	writeJSON(w, 200, map[string]any{"live": true, "running": running, "workers": states})
}

func (s *Server) handleAccountsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	names, err := s.recorder.Accounts(ctx)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list accounts: %v", err))
		return
	}

	var live map[string]domain.WorkerState
	if s.cfg.States != nil {
		live = s.cfg.States()
		seen := map[string]bool{}
		for _, name := range names {
			seen[name] = true
		}
		// 刚启动、还没写入事件的账户也要出现在列表里
		for name := range live {
			if !seen[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	out := make([]accountSummary, 0, len(names))
	for _, name := range names {
		out = append(out, accountSummary{Name: name, State: live[name]})
	}
	writeJSON(w, 200, out)
}

func (s *Server) handleAccountOutcomes(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(pathParam(r, "account"))
	limit := parseLimit(r)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := s.recorder.RecentOutcomes(ctx, account, limit)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list outcomes: %v", err))
		return
	}
	if items == nil {
		items = []domain.ActionOutcome{}
	}
	writeJSON(w, 200, map[string]any{"account": account, "outcomes": items})
}

func (s *Server) handleAccountTransitions(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(pathParam(r, "account"))
	limit := parseLimit(r)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := s.recorder.RecentTransitions(ctx, account, limit)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list transitions: %v", err))
		return
	}
	if items == nil {
		items = []domain.StateTransition{}
	}
	writeJSON(w, 200, map[string]any{"account": account, "transitions": items})
}

func (s *Server) handleAccountEquity(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(pathParam(r, "account"))
	limit := parseLimit(r)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snaps, err := s.recorder.RecentEquity(ctx, account, limit)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list equity: %v", err))
		return
	}
	if snaps == nil {
		snaps = []events.EquitySnapshot{}
	}
	writeJSON(w, 200, map[string]any{"account": account, "equity": snaps})
}

func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(pathParam(r, "account"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	counts, err := s.recorder.ActionCounts(ctx, account)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db count actions: %v", err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, 200, map[string]any{"account": account, "total": total, "counts": counts})
}
