package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"hyperbridge/internal/journal"
	"hyperbridge/internal/strategy"
	"hyperbridge/pkg/types"
)

var dispatchSeq atomic.Int64

// handleWebhook is the ingress facade: validate, classify, journal,
// dispatch. The re-execute endpoint shares it — a re-run payload re-enters
// here as if newly received and produces a fresh journal entry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var sig types.Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		s.journalWebhook(r, body, "failed", types.DefaultStrategyID)
		writeError(w, http.StatusBadRequest, "invalid signal: malformed JSON")
		return
	}

	strategyID := sig.StrategyID
	if strategyID == "" {
		strategyID = types.DefaultStrategyID
	}
	s.registry.Ensure(r.Context(), strategyID)
	s.registry.Record(r.Context(), strategyID, strategy.OutcomeReceived)

	if err := sig.Validate(); err != nil {
		s.journalWebhook(r, body, "failed", strategyID)
		s.registry.Record(r.Context(), strategyID, strategy.OutcomeFailed)
		s.journalLog(r, "ERROR", "signal rejected", map[string]any{"reason": err.Error()})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.journalWebhook(r, body, "accepted", strategyID)

	vs := s.Venue()
	dispatchID := fmt.Sprintf("d-%d-%d", time.Now().UnixMilli(), dispatchSeq.Add(1))

	report, err := s.executor.Execute(r.Context(), vs.Port, vs.Master, sig, strategyID)
	if err != nil {
		s.respondExecutionError(w, err, dispatchID, strategyID)
		return
	}

	writeJSON(w, http.StatusOK, WebhookAccepted{
		Status:     string(report.Terminal),
		DispatchID: dispatchID,
		StrategyID: strategyID,
		Report:     report,
	})
}

func (s *Server) respondExecutionError(w http.ResponseWriter, err error, dispatchID, strategyID string) {
	var disabled *types.StrategyDisabledError
	var busy *types.SymbolBusyError
	var invalid *types.InvalidSignalError

	switch {
	case errors.As(err, &disabled):
		writeJSON(w, http.StatusOK, WebhookAccepted{
			Status:     "skipped",
			DispatchID: dispatchID,
			StrategyID: strategyID,
			Reason:     err.Error(),
		})
	case errors.As(err, &busy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vs := s.Venue()

	balanceStr := "unavailable"
	connected := false
	if snap, err := vs.Balance.Get(r.Context()); err == nil {
		balanceStr = snap.Total.StringFixed(2)
		connected = true
	}

	totals := s.registry.Totals()
	rate := 0.0
	if forwards := totals.SuccessfulForwards + totals.FailedForwards; forwards > 0 {
		rate = float64(totals.SuccessfulForwards) / float64(forwards) * 100.0
	}

	probe := s.uptime.Snapshot()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:               "online",
		Environment:          string(vs.Env),
		Uptime:               time.Since(s.startedAt).Round(time.Second).String(),
		Balance:              balanceStr,
		WalletAddress:        vs.Master,
		HyperliquidConnected: connected,
		Statistics: StatisticsBlock{
			TotalWebhooks:      totals.TotalWebhooks,
			SuccessfulForwards: totals.SuccessfulForwards,
			FailedForwards:     totals.FailedForwards,
			SuccessRate:        rate,
		},
		UptimeMonitoring: MonitoringBlock{
			Percentage:      probe.Percentage,
			TotalPings:      probe.TotalPings,
			SuccessfulPings: probe.SuccessfulPings,
			FailedPings:     probe.FailedPings,
			MonitoringSince: types.Stamp(probe.MonitoringSince),
		},
		Timestamp: types.Stamp(time.Now()),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", journal.DefaultLimit)
	level := strings.ToUpper(r.URL.Query().Get("level"))

	entries, err := s.journal.RecentLogs(r.Context(), limit, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}

	out := make([]LogDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLogDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.journal.ClearLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_count": deleted})
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.RecentWebhooks(r.Context(), queryInt(r, "limit", journal.DefaultLimit), strategyFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}

	out := make([]WebhookDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toWebhookDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.RecentResponses(r.Context(), queryInt(r, "limit", journal.DefaultLimit), strategyFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}

	out := make([]ResponseDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponseDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": out})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]types.Strategy)
	for _, st := range s.registry.List() {
		out[st.ID] = st
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStrategyIDs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategy_ids": s.registry.ListIDs()})
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStrategyToggle(w http.ResponseWriter, r *http.Request) {
	st, ok := s.registry.Toggle(r.Context(), r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}
	s.journalLog(r, "INFO", "strategy toggled", map[string]any{"id": st.ID, "enabled": st.Enabled})
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"environment": string(s.Venue().Env)})
}

// handleSetEnvironment switches testnet ↔ mainnet: a fresh venue set is
// built (new client, re-resolved master account, fresh balance slot) and
// swapped in. In-flight executions keep the set they started with.
func (s *Server) handleSetEnvironment(w http.ResponseWriter, r *http.Request) {
	env := types.Environment(strings.ToLower(r.URL.Query().Get("environment")))
	if env != types.Testnet && env != types.Mainnet {
		writeError(w, http.StatusBadRequest, "environment must be testnet or mainnet")
		return
	}

	if s.Venue().Env == env {
		writeJSON(w, http.StatusOK, map[string]string{"environment": string(env), "status": "unchanged"})
		return
	}

	vs, err := s.factory(r.Context(), env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.venueMu.Lock()
	s.venueSet = vs
	s.venueMu.Unlock()

	s.journalLog(r, "INFO", "environment switched", map[string]any{"environment": string(env)})
	writeJSON(w, http.StatusOK, map[string]string{"environment": string(env), "status": "switched"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.journalLog(r, "INFO", "restart requested", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})

	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

func (s *Server) handleResetUptime(w http.ResponseWriter, r *http.Request) {
	s.uptime.Reset()
	probe := s.uptime.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "reset",
		"monitoring_since": types.Stamp(probe.MonitoringSince),
	})
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	vs := s.Venue()
	raw, err := vs.Port.OrderHistory(r.Context(), vs.Master)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeRaw(w, raw)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	vs := s.Venue()
	raw, err := vs.Port.OpenOrders(r.Context(), vs.Master)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeRaw(w, raw)
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

func (s *Server) journalWebhook(r *http.Request, payload []byte, status, strategyID string) {
	if err := s.journal.Append(r.Context(), journal.Webhook(payload, status, strategyID)); err != nil {
		s.logger.Error("journal webhook failed", "error", err)
	}
}

func (s *Server) journalLog(r *http.Request, level, msg string, details map[string]any) {
	if err := s.journal.Append(r.Context(), journal.Log(level, msg, details)); err != nil {
		s.logger.Error("journal log failed", "error", err)
	}
}

// strategyFilter decodes the strategy_ids CSV parameter with the journal's
// tri-state contract: absent → nil (unfiltered), present but empty → empty
// non-nil slice (explicit empty selection).
func strategyFilter(r *http.Request) []string {
	q := r.URL.Query()
	if !q.Has("strategy_ids") {
		return nil
	}
	raw := q.Get("strategy_ids")
	ids := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
