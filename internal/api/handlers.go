package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := map[string]any{"halted": false}
	if s.cfg.Halt != nil {
		hs, err := s.cfg.Halt.HaltState()
		if err != nil {
			writeError(w, 500, fmt.Sprintf("state get: %v", err))
			return
		}
		resp["halted"] = hs.Halted
		if hs.Halted {
			resp["halt_reason"] = hs.Reason
			resp["halted_at"] = hs.At
		}
	}
	if cycles, err := s.cfg.Store.ListCycles(ctx, 1); err == nil && len(cycles) > 0 {
		resp["last_cycle"] = cycles[0]
	}
	if th, err := s.cfg.Store.CurrentThresholds(ctx); err == nil {
		resp["thresholds_version"] = th.Version
	}
	writeJSON(w, 200, resp)
}

type haltRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Halt == nil {
		writeError(w, 501, "kill switch not configured")
		return
	}
	var req haltRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, "invalid json body")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual halt via api"
	}
	if err := s.cfg.Halt.Halt(reason, time.Now().UTC()); err != nil {
		writeError(w, 500, fmt.Sprintf("state set: %v", err))
		return
	}
	log.Warnf("已暂停交易: %s", reason)
	writeJSON(w, 200, map[string]any{"halted": true, "halt_reason": reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Halt == nil {
		writeError(w, 501, "kill switch not configured")
		return
	}
	if err := s.cfg.Halt.Resume(); err != nil {
		writeError(w, 500, fmt.Sprintf("state set: %v", err))
		return
	}
	log.Warn("已恢复交易")
	writeJSON(w, 200, map[string]any{"halted": false})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cycles, err := s.cfg.Store.ListCycles(ctx, limitParam(r, 20, 500))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list cycles: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"cycles": cycles})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cycleID := strings.TrimSpace(r.URL.Query().Get("cycle"))
	decisions, err := s.cfg.Store.ListDecisions(ctx, cycleID, limitParam(r, 100, 1000))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list decisions: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"decisions": decisions})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cur, err := s.cfg.Store.CurrentThresholds(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoThresholds) {
			writeError(w, 404, "no thresholds published")
			return
		}
		writeError(w, 500, fmt.Sprintf("db get thresholds: %v", err))
		return
	}
	versions, err := s.cfg.Store.ListThresholdVersions(ctx, limitParam(r, 20, 200))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list versions: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{
		"current_version": cur.Version,
		"current":         cur,
		"versions":        versions,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	positions, err := s.cfg.Store.ListPositions(ctx)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list positions: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"positions": positions})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	f, err := outcomeFilter(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	trades, err := s.cfg.Store.QueryOutcomes(ctx, f)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db query outcomes: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"count": len(trades), "trades": trades})
}

// outcomeFilter 解析 ticker/action/outcome/tier/since/until/limit
func outcomeFilter(r *http.Request) (store.OutcomeFilter, error) {
	q := r.URL.Query()
	f := store.OutcomeFilter{
		Ticker:  strings.ToUpper(strings.TrimSpace(q.Get("ticker"))),
		Action:  domain.Action(strings.ToUpper(strings.TrimSpace(q.Get("action")))),
		Outcome: domain.Outcome(strings.ToUpper(strings.TrimSpace(q.Get("outcome")))),
		Tier:    domain.SizeTier(strings.ToUpper(strings.TrimSpace(q.Get("tier")))),
		Limit:   limitParam(r, 500, 10000),
	}
	var err error
	if f.From, err = parseDay(q.Get("since")); err != nil {
		return f, fmt.Errorf("invalid since: %w", err)
	}
	if f.To, err = parseDay(q.Get("until")); err != nil {
		return f, fmt.Errorf("invalid until: %w", err)
	}
	return f, nil
}

func parseDay(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
