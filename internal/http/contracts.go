package http

import (
	"time"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string             `json:"status"` // healthy, degraded
	Timestamp     time.Time          `json:"timestamp"`
	Uptime        string             `json:"uptime"`
	Instruments   []InstrumentHealth `json:"instruments"`
	OpenPositions int                `json:"open_positions"`
	PendingOrders int                `json:"pending_orders"`
	System        SystemInfo         `json:"system"`
}

// InstrumentHealth represents the data status of one instrument
type InstrumentHealth struct {
	Instrument string     `json:"instrument"`
	Status     string     `json:"status"` // healthy, waiting
	Samples    int        `json:"samples"`
	LastSample *time.Time `json:"last_sample,omitempty"`
	Position   bool       `json:"position"`
	InFlight   bool       `json:"in_flight"`
}

// SystemInfo carries runtime details
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
}

// PortfolioResponse represents the portfolio endpoint response
type PortfolioResponse struct {
	Total        float64           `json:"total"`
	Available    float64           `json:"available"`
	Reserved     float64           `json:"reserved"`
	DailyPnL     float64           `json:"daily_pnl"`
	Positions    []PositionInfo    `json:"positions"`
	RecentTrades []portfolio.Trade `json:"recent_trades"`
	Metrics      portfolio.Metrics `json:"metrics"`
	Generated    time.Time         `json:"generated"`
}

// PositionInfo represents an open position marked to the latest close
type PositionInfo struct {
	ID            string           `json:"id"`
	Instrument    string           `json:"instrument"`
	Direction     domain.Direction `json:"direction"`
	Status        string           `json:"status"`
	Size          float64          `json:"size"`
	InitialSize   float64          `json:"initial_size"`
	EntryPrice    float64          `json:"entry_price"`
	Mark          float64          `json:"mark,omitempty"`
	StopPrice     float64          `json:"stop_price"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
	RealizedPnL   float64          `json:"realized_pnl"`
	EntryTime     time.Time        `json:"entry_time"`
}

// SignalResponse represents the signal endpoint response
type SignalResponse struct {
	Signal    fusion.Signal `json:"signal"`
	Generated time.Time     `json:"generated"`
}

// ErrorResponse represents standardized error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
