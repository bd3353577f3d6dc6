// Package feed provides market data sources: a Kraken websocket OHLC feed
// and a file replay feed.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fusionrun/internal/market"
)

// KrakenConfig configures the Kraken OHLC stream.
type KrakenConfig struct {
	URL          string        `yaml:"url"`
	Interval     int           `yaml:"interval"` // candle minutes
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// DefaultKrakenConfig returns the public endpoint with one-minute candles.
func DefaultKrakenConfig() KrakenConfig {
	return KrakenConfig{
		URL:          "wss://ws.kraken.com",
		Interval:     1,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Kraken streams OHLC candles from the Kraken v1 websocket API.
type Kraken struct {
	cfg    KrakenConfig
	dialer *websocket.Dialer
}

// NewKraken creates a Kraken feed.
func NewKraken(cfg KrakenConfig) *Kraken {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	return &Kraken{cfg: cfg, dialer: &dialer}
}

type subscribeRequest struct {
	Event        string         `json:"event"`
	Pair         []string       `json:"pair"`
	Subscription map[string]any `json:"subscription"`
}

type eventMessage struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ChannelName  string `json:"channelName"`
	ErrorMessage string `json:"errorMessage"`
}

// Stream connects, subscribes and forwards candles, reconnecting with
// exponential backoff until ctx is done.
func (k *Kraken) Stream(ctx context.Context, instruments []string, out chan<- market.Tick) error {
	if len(instruments) == 0 {
		return errors.New("no instruments to subscribe")
	}
	pairs := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		pairs[KrakenPair(inst)] = inst
	}

	delay := k.cfg.ReconnectMin
	for {
		received, err := k.session(ctx, pairs, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = k.cfg.ReconnectMin
		}
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Kraken WebSocket disconnected")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, k.cfg.ReconnectMax)
	}
}

// session runs one connection. It reports whether any candle arrived.
func (k *Kraken) session(ctx context.Context, pairs map[string]string, out chan<- market.Tick) (bool, error) {
	log.Info().Str("url", k.cfg.URL).Int("pairs", len(pairs)).Msg("Connecting to Kraken WebSocket")

	headers := make(map[string][]string)
	headers["User-Agent"] = []string{"FusionRun (OHLC feed)"}
	conn, _, err := k.dialer.DialContext(ctx, k.cfg.URL, headers)
	if err != nil {
		return false, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	names := make([]string, 0, len(pairs))
	for p := range pairs {
		names = append(names, p)
	}
	req := subscribeRequest{
		Event:        "subscribe",
		Pair:         names,
		Subscription: map[string]any{"name": "ohlc", "interval": k.cfg.Interval},
	}
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("failed to send subscription: %w", err)
	}

	received := false
	for {
		if k.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(k.cfg.ReadTimeout))
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("WebSocket read: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if len(data) > 0 && data[0] == '{' {
			k.handleEvent(data)
			continue
		}

		pair, sample, ok, err := ParseOHLC(data)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to parse Kraken message")
			continue
		}
		if !ok {
			continue
		}
		inst, known := pairs[pair]
		if !known {
			continue
		}
		received = true
		select {
		case out <- market.Tick{Instrument: inst, Sample: sample}:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

func (k *Kraken) handleEvent(data []byte) {
	var ev eventMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("Failed to parse Kraken event")
		return
	}
	switch ev.Event {
	case "subscriptionStatus":
		if ev.Status == "error" {
			log.Error().Str("pair", ev.Pair).Str("error", ev.ErrorMessage).Msg("Kraken subscription rejected")
			return
		}
		log.Info().Str("pair", ev.Pair).Str("channel", ev.ChannelName).Str("status", ev.Status).Msg("WebSocket subscription confirmed")
	case "heartbeat", "systemStatus":
	default:
		log.Debug().RawJSON("message", data).Msg("Received Kraken event")
	}
}

// ParseOHLC decodes a Kraken ohlc channel message of the form
// [channelID, [time, etime, open, high, low, close, vwap, volume, count],
// "ohlc-1", "XBT/USD"]. ok is false for other channels. The sample time is
// the candle end time, so updates to a forming candle share a timestamp.
func ParseOHLC(data []byte) (pair string, sample market.Sample, ok bool, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", market.Sample{}, false, fmt.Errorf("failed to unmarshal Kraken message: %w", err)
	}
	if len(raw) < 4 {
		return "", market.Sample{}, false, nil
	}

	var channel string
	if err := json.Unmarshal(raw[len(raw)-2], &channel); err != nil || !strings.HasPrefix(channel, "ohlc") {
		return "", market.Sample{}, false, nil
	}
	if err := json.Unmarshal(raw[len(raw)-1], &pair); err != nil {
		return "", market.Sample{}, false, fmt.Errorf("invalid pair in Kraken message: %w", err)
	}

	var fields []any
	if err := json.Unmarshal(raw[1], &fields); err != nil {
		return "", market.Sample{}, false, fmt.Errorf("invalid ohlc payload: %w", err)
	}
	if len(fields) < 8 {
		return "", market.Sample{}, false, fmt.Errorf("ohlc payload has %d fields", len(fields))
	}

	nums := make([]float64, 8)
	for i := 0; i < 8; i++ {
		str, isString := fields[i].(string)
		if !isString {
			return "", market.Sample{}, false, fmt.Errorf("ohlc field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return "", market.Sample{}, false, fmt.Errorf("ohlc field %d: %w", i, err)
		}
		nums[i] = v
	}

	sec, frac := math.Modf(nums[1])
	sample = market.Sample{
		Time:   time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(),
		Open:   nums[2],
		High:   nums[3],
		Low:    nums[4],
		Close:  nums[5],
		Volume: nums[7],
	}
	return pair, sample, true, nil
}

// KrakenPair converts an instrument such as "BTC-USD" to Kraken's pair
// name "XBT/USD".
func KrakenPair(instrument string) string {
	s := strings.ToUpper(instrument)
	s = strings.NewReplacer("-", "/", "_", "/").Replace(s)
	base, quote, found := strings.Cut(s, "/")
	if !found {
		return s
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + "/" + quote
}
