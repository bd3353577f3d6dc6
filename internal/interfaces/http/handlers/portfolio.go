package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fusionrun/internal/engine"
	httpContracts "github.com/sawpanic/fusionrun/internal/http"
)

const recentTrades = 20

// Portfolio handles GET /portfolio endpoint
func (h *Handlers) Portfolio(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.PortfolioSnapshot()
	st := snap.State

	response := httpContracts.PortfolioResponse{
		Total:     st.Total,
		Available: st.Available,
		Reserved:  st.Reserved,
		DailyPnL:  st.DailyPnLAt(h.now()),
		Positions: make([]httpContracts.PositionInfo, 0, len(st.Positions)),
		Metrics:   snap.Metrics,
		Generated: h.now().UTC(),
	}
	for _, p := range st.Positions {
		info := httpContracts.PositionInfo{
			ID:          p.ID,
			Instrument:  p.Instrument,
			Direction:   p.Direction,
			Status:      string(p.Status),
			Size:        p.Size,
			InitialSize: p.InitialSize,
			EntryPrice:  p.EntryPrice,
			StopPrice:   p.Exit.Stop.Price,
			RealizedPnL: p.RealizedPnL,
			EntryTime:   p.EntryTime,
		}
		if mark, ok := snap.Marks[p.Instrument]; ok {
			info.Mark = mark
			info.UnrealizedPnL = p.Unrealized(mark)
		}
		response.Positions = append(response.Positions, info)
	}
	sort.Slice(response.Positions, func(i, j int) bool {
		return response.Positions[i].Instrument < response.Positions[j].Instrument
	})

	trades := st.Trades
	if len(trades) > recentTrades {
		trades = trades[len(trades)-recentTrades:]
	}
	response.RecentTrades = trades

	h.writeJSON(w, http.StatusOK, response)
}

// Signal handles GET /signal/{instrument} endpoint
func (h *Handlers) Signal(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]

	sig, err := h.engine.EvaluateOnce(r.Context(), instrument)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNoData):
		h.writeError(w, r, http.StatusNotFound, "no_data",
			"No market data for instrument "+instrument)
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, "timeout",
			"Signal evaluation timed out")
		return
	default:
		log.Error().Err(err).Str("instrument", instrument).Msg("Signal evaluation failed")
		h.writeError(w, r, http.StatusInternalServerError, "evaluation_failed",
			"Signal evaluation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, httpContracts.SignalResponse{
		Signal:    sig,
		Generated: h.now().UTC(),
	})
}
