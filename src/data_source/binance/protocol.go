package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"flow-observer/src/helpers"
	"flow-observer/src/models"

	"github.com/shopspring/decimal"
)

// FrameKind tags a parsed upstream message.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameTrade
	FrameDepth
	FrameLiquidation
)

func (k FrameKind) String() string {
	switch k {
	case FrameTrade:
		return "aggTrade"
	case FrameDepth:
		return "depthUpdate"
	case FrameLiquidation:
		return "forceOrder"
	}
	return "unknown"
}

// Frame is exactly one of Trade, Depth or Liquidation, selected by Kind.
type Frame struct {
	Kind        FrameKind
	Trade       *models.MTrade
	Depth       *models.MDepthDiff
	Liquidation *models.MLiquidationEvent
}

// -----------------------------------------------------------------------------
// Wire shapes
// -----------------------------------------------------------------------------

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Keys differing only by case ("e"/"E", "m"/"M") each need their own field,
// otherwise encoding/json folds them onto one.
type eventHeader struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type wireAggTrade struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker *bool  `json:"m"`
	BestMatch    bool   `json:"M"`
}

type wireDepthUpdate struct {
	Event         string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID *int64      `json:"U"`
	LastUpdateID  *int64      `json:"u"`
	PrevUpdateID  *int64      `json:"pu"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

type wireForceOrder struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     *struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		Quantity     string `json:"q"`
		Price        string `json:"p"`
		AveragePrice string `json:"ap"`
		LastFilled   string `json:"l"`
		TradeTime    int64  `json:"T"`
	} `json:"o"`
}

// -----------------------------------------------------------------------------
// Stream names
// -----------------------------------------------------------------------------

func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

func DepthStream(symbol string) string {
	return strings.ToLower(symbol) + "@depth@100ms"
}

func LiquidationStream(symbol string) string {
	return strings.ToLower(symbol) + "@forceOrder"
}

// -----------------------------------------------------------------------------

// ParseFrame decodes one websocket payload. Combined-stream envelopes are
// unwrapped. Anything that is not a complete aggTrade, depthUpdate or
// forceOrder message yields a MalformedMessageError.
func ParseFrame(data []byte) (Frame, error) {
	payload := bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Frame{}, helpers.NewMalformedMessageError("invalid json", err)
	}
	if env.Stream != "" && len(env.Data) > 0 {
		payload = env.Data
	}

	var hdr eventHeader
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return Frame{}, helpers.NewMalformedMessageError("invalid event header", err)
	}

	switch hdr.Event {
	case "aggTrade":
		trade, err := parseAggTrade(payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameTrade, Trade: trade}, nil
	case "depthUpdate":
		diff, err := parseDepthUpdate(payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameDepth, Depth: diff}, nil
	case "forceOrder":
		ev, err := parseForceOrder(payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameLiquidation, Liquidation: ev}, nil
	}

	return Frame{}, helpers.NewMalformedMessageError(fmt.Sprintf("unrecognised event type %q", hdr.Event), nil)
}

// -----------------------------------------------------------------------------

func parseAggTrade(payload []byte) (*models.MTrade, error) {
	var w wireAggTrade
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, helpers.NewMalformedMessageError("aggTrade", err)
	}
	if w.Symbol == "" || w.IsBuyerMaker == nil || w.TradeTime <= 0 {
		return nil, helpers.NewMalformedMessageError("aggTrade: missing symbol, maker flag or trade time", nil)
	}

	price, qty, err := parsePair(w.Price, w.Quantity)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("aggTrade", err)
	}

	return &models.MTrade{
		Symbol:       strings.ToUpper(w.Symbol),
		Price:        price.InexactFloat64(),
		Quantity:     qty.InexactFloat64(),
		Notional:     Notional(price, qty),
		TradeTime:    w.TradeTime,
		IsBuyerMaker: *w.IsBuyerMaker,
	}, nil
}

// -----------------------------------------------------------------------------

// parseDepthUpdate normalises futures diffs, which chain through "pu"
// (previous final update id) instead of contiguous ids, so that
// FirstUpdateID is the id the batch continues from plus one.
func parseDepthUpdate(payload []byte) (*models.MDepthDiff, error) {
	var w wireDepthUpdate
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, helpers.NewMalformedMessageError("depthUpdate", err)
	}
	if w.Symbol == "" || w.FirstUpdateID == nil || w.LastUpdateID == nil {
		return nil, helpers.NewMalformedMessageError("depthUpdate: missing symbol or update ids", nil)
	}
	if *w.FirstUpdateID > *w.LastUpdateID {
		return nil, helpers.NewMalformedMessageError(fmt.Sprintf("depthUpdate: first id %d after last id %d", *w.FirstUpdateID, *w.LastUpdateID), nil)
	}

	bids, err := ParseLevels(w.Bids)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("depthUpdate bids", err)
	}
	asks, err := ParseLevels(w.Asks)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("depthUpdate asks", err)
	}

	diff := &models.MDepthDiff{
		Symbol:        strings.ToUpper(w.Symbol),
		EventTime:     w.EventTime,
		FirstUpdateID: *w.FirstUpdateID,
		LastUpdateID:  *w.LastUpdateID,
		BidUpdates:    bids,
		AskUpdates:    asks,
	}
	if w.PrevUpdateID != nil {
		diff.PrevUpdateID = *w.PrevUpdateID
		if chained := *w.PrevUpdateID + 1; chained < diff.FirstUpdateID {
			diff.FirstUpdateID = chained
		}
	}
	return diff, nil
}

// -----------------------------------------------------------------------------

// parseForceOrder maps the liquidated order side onto the liquidated
// position: a SELL order closes a long, a BUY order closes a short.
func parseForceOrder(payload []byte) (*models.MLiquidationEvent, error) {
	var w wireForceOrder
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, helpers.NewMalformedMessageError("forceOrder", err)
	}
	if w.Order == nil || w.Order.Symbol == "" {
		return nil, helpers.NewMalformedMessageError("forceOrder: missing order", nil)
	}

	var side string
	switch strings.ToUpper(w.Order.Side) {
	case "SELL":
		side = models.SideLong
	case "BUY":
		side = models.SideShort
	default:
		return nil, helpers.NewMalformedMessageError(fmt.Sprintf("forceOrder: unknown side %q", w.Order.Side), nil)
	}

	priceText := w.Order.AveragePrice
	if p, err := decimal.NewFromString(priceText); err != nil || p.IsZero() {
		priceText = w.Order.Price
	}
	price, qty, err := parsePair(priceText, w.Order.Quantity)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("forceOrder", err)
	}

	eventTime := w.Order.TradeTime
	if eventTime <= 0 {
		eventTime = w.EventTime
	}
	if eventTime <= 0 {
		return nil, helpers.NewMalformedMessageError("forceOrder: missing event time", nil)
	}

	return &models.MLiquidationEvent{
		Symbol:    strings.ToUpper(w.Order.Symbol),
		EventTime: eventTime,
		Side:      side,
		Price:     price.InexactFloat64(),
		Quantity:  qty.InexactFloat64(),
		Notional:  Notional(price, qty),
	}, nil
}

// -----------------------------------------------------------------------------
// Number helpers
// -----------------------------------------------------------------------------

// Notional returns |price * quantity| computed exactly before conversion.
func Notional(price, qty decimal.Decimal) float64 {
	return price.Mul(qty).Abs().InexactFloat64()
}

// ParseLevels converts [price, qty] string pairs.
func ParseLevels(raw [][2]string) ([]models.MPriceLevel, error) {
	out := make([]models.MPriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, qty, err := parsePair(lvl[0], lvl[1])
		if err != nil {
			return nil, err
		}
		out = append(out, models.MPriceLevel{price.InexactFloat64(), qty.InexactFloat64()})
	}
	return out, nil
}

func parsePair(priceText, qtyText string) (decimal.Decimal, decimal.Decimal, error) {
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price %q: %w", priceText, err)
	}
	qty, err := decimal.NewFromString(qtyText)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quantity %q: %w", qtyText, err)
	}
	if price.IsNegative() || qty.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("negative price or quantity")
	}
	return price, qty, nil
}
