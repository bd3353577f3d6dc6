package handlers

import (
	"net/http"
	"runtime"
	"time"

	httpContracts "github.com/sawpanic/fusionrun/internal/http"
)

// Health handles GET /health endpoint. The engine is healthy once every
// configured instrument has received data.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Status()
	now := h.now()

	response := httpContracts.HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC(),
		Uptime:        now.Sub(h.started).Round(time.Second).String(),
		OpenPositions: st.OpenPositions,
		PendingOrders: st.PendingOrders,
		System: httpContracts.SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}

	for _, is := range st.Instruments {
		ih := httpContracts.InstrumentHealth{
			Instrument: is.Instrument,
			Status:     "healthy",
			Samples:    is.Samples,
			Position:   is.Position,
			InFlight:   is.InFlight,
		}
		if is.Samples == 0 {
			ih.Status = "waiting"
			response.Status = "degraded"
		} else {
			last := is.LastSample
			ih.LastSample = &last
		}
		response.Instruments = append(response.Instruments, ih)
	}

	h.writeJSON(w, http.StatusOK, response)
}
