package mt5bridge

import (
	"time"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Wire types of the bridge. Field names follow the terminal's own structures;
// times are unix seconds in server time.

const (
	orderTypeBuy  = 0
	orderTypeSell = 1
)

var pendingTypeNames = map[int]string{
	2: "BUY_LIMIT",
	3: "SELL_LIMIT",
	4: "BUY_STOP",
	5: "SELL_STOP",
	6: "BUY_STOP_LIMIT",
	7: "SELL_STOP_LIMIT",
}

type initResp struct {
	Connected  bool   `json:"connected"`
	Terminal   string `json:"terminal"`
	Login      int64  `json:"login"`
	Server     string `json:"server"`
	ServerTime int64  `json:"server_time"`
}

type timeResp struct {
	ServerTime int64 `json:"server_time"` // milliseconds
}

type rateDTO struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

func (r rateDTO) bar() exchange.Bar {
	return exchange.Bar{
		Time:   time.Unix(r.Time, 0).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.TickVolume,
	}
}

type tickDTO struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"`
}

type accountDTO struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
}

type symbolDTO struct {
	Name       string  `json:"name"`
	Digits     int     `json:"digits"`
	Point      float64 `json:"point"`
	TickValue  float64 `json:"trade_tick_value"`
	TickSize   float64 `json:"trade_tick_size"`
	VolumeMin  float64 `json:"volume_min"`
	VolumeMax  float64 `json:"volume_max"`
	VolumeStep float64 `json:"volume_step"`
}

type positionDTO struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Magic     int64   `json:"magic"`
	Comment   string  `json:"comment"`
	Time      int64   `json:"time"`
}

func (p positionDTO) position() exchange.Position {
	side := exchange.SideLong
	if p.Type == orderTypeSell {
		side = exchange.SideShort
	}
	return exchange.Position{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       side,
		Volume:     p.Volume,
		EntryPrice: p.PriceOpen,
		StopLoss:   p.SL,
		TakeProfit: p.TP,
		Profit:     p.Profit,
		Magic:      p.Magic,
		Comment:    p.Comment,
		OpenedAt:   time.Unix(p.Time, 0).UTC(),
	}
}

type orderDTO struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	PriceOpen float64 `json:"price_open"`
	TimeSetup int64   `json:"time_setup"`
}

func (o orderDTO) pending() exchange.PendingOrder {
	name, ok := pendingTypeNames[o.Type]
	if !ok {
		name = "UNKNOWN"
	}
	return exchange.PendingOrder{
		Ticket:    o.Ticket,
		Symbol:    o.Symbol,
		Type:      name,
		Price:     o.PriceOpen,
		TimeSetup: time.Unix(o.TimeSetup, 0).UTC(),
	}
}

// tradeRequestDTO mirrors the terminal's trade request structure.
type tradeRequestDTO struct {
	Action      string  `json:"action"` // "deal" or "sltp"
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume,omitempty"`
	Type        int     `json:"type"`
	Price       float64 `json:"price,omitempty"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Deviation   int     `json:"deviation,omitempty"`
	Magic       int64   `json:"magic,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	Position    uint64  `json:"position,omitempty"`
	TypeTime    string  `json:"type_time,omitempty"`
	TypeFilling string  `json:"type_filling,omitempty"`
}

func toTradeRequest(req exchange.OrderRequest) tradeRequestDTO {
	dto := tradeRequestDTO{
		Action:   "deal",
		Symbol:   req.Symbol,
		Volume:   req.Volume,
		Type:     orderTypeBuy,
		Price:    req.Price,
		SL:       req.StopLoss,
		TP:       req.TakeProfit,
		Position: req.Position,
	}
	if req.Side == exchange.SideShort {
		dto.Type = orderTypeSell
	}
	if req.Action == exchange.ActionModifyProtection {
		dto.Action = "sltp"
		dto.Volume, dto.Price = 0, 0
		return dto
	}
	dto.Deviation = req.Deviation
	dto.Magic = req.Magic
	dto.Comment = req.Comment
	dto.TypeTime = "GTC"
	dto.TypeFilling = string(req.Filling)
	if dto.TypeFilling == "" {
		dto.TypeFilling = string(exchange.FillFOK)
	}
	return dto
}

type tradeResultDTO struct {
	Retcode int     `json:"retcode"`
	Order   uint64  `json:"order"`
	Deal    uint64  `json:"deal"`
	Comment string  `json:"comment"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
}

func (r tradeResultDTO) result() exchange.OrderResult {
	res := exchange.ResultFromCode(r.Retcode, r.Comment)
	res.Ticket = r.Order
	res.Price = r.Price
	res.Volume = r.Volume
	return res
}

type errorResp struct {
	Error string `json:"error"`
}
