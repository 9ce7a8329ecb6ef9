// Package pricewatch is the /track front-end: Wildberries and Ozon product
// links re-checked on a fixed interval, with alerts on price drops, sharp
// rises and reached target prices.
package pricewatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zvonbot/internal/engine"
	logx "zvonbot/pkg/logx"
)

const Kind engine.Kind = "price_watch"

const (
	defaultMaxPerOwner  = 10
	defaultPollInterval = 6 * time.Hour

	// risePercentThreshold gates rise alerts; small upward jitter is noise.
	risePercentThreshold = 10.0
)

// payload carries the tracked product between fires. Price is refreshed on
// every successful check.
type payload struct {
	URL         string  `json:"url"`
	ProductID   string  `json:"product_id"`
	Shop        Shop    `json:"shop"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	TargetPrice float64 `json:"target_price,omitempty"` // 0 = none
}

type Options struct {
	MaxPerOwner  int
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxPerOwner <= 0 {
		o.MaxPerOwner = defaultMaxPerOwner
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

type Feature struct {
	eng    *engine.Service
	client *Client
	log    logx.Logger
	opt    Options
}

func New(eng *engine.Service, client *Client, opt Options, log logx.Logger) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Feature{eng: eng, client: client, log: log, opt: opt.withDefaults()}
	eng.RegisterKind(Kind, f.opt.MaxPerOwner, f.work)
	return f
}

// work re-checks one tracked product. A fetch error keeps the old payload and
// the schedule; a changed price updates the payload and may produce an alert.
func (f *Feature) work(ctx context.Context, t engine.Task) (engine.Outcome, error) {
	var p payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return engine.Outcome{}, fmt.Errorf("price watch payload: %w", err)
	}

	cur, err := f.client.Fetch(ctx, p.Shop, p.ProductID)
	if err != nil {
		return engine.Outcome{}, engine.Transient(fmt.Errorf("fetch %s %s: %w", p.Shop, p.ProductID, err))
	}

	oldPrice := p.Price
	p.Price = cur.Price
	if cur.Name != "" {
		p.Name = cur.Name
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return engine.Outcome{}, err
	}

	text := alertText(p, oldPrice)
	if text != "" {
		f.log.Debug("price alert",
			logx.Int64("task", t.ID),
			logx.String("product", p.ProductID),
			logx.Float64("old", oldPrice),
			logx.Float64("new", cur.Price))
	}
	return engine.Outcome{Payload: raw, Text: text}, nil
}

// alertText decides whether this check is worth a message.
//
// Drops always alert. Rises alert only past risePercentThreshold. A reached
// target price gets an extra marker on the drop alert.
func alertText(p payload, oldPrice float64) string {
	if oldPrice <= 0 || p.Price == oldPrice {
		return ""
	}

	emoji := shopEmoji(p.Shop)
	if p.Price < oldPrice {
		drop := oldPrice - p.Price
		percent := drop / oldPrice * 100
		msg := fmt.Sprintf(
			"📉 Price dropped!\n\n%s %s\n📦 %s\n\n💰 Was: %.0f ₽\n💰 Now: %.0f ₽\n📊 Down %.0f ₽ (-%.1f%%)\n\n🔗 %s",
			emoji, shopTitle(p.Shop), p.Name, oldPrice, p.Price, drop, percent, p.URL)
		if p.TargetPrice > 0 && p.Price <= p.TargetPrice {
			msg = "🎯 " + msg + "\n\n✅ Target price reached!"
		}
		return msg
	}

	rise := p.Price - oldPrice
	percent := rise / oldPrice * 100
	if percent <= risePercentThreshold {
		return ""
	}
	return fmt.Sprintf(
		"📈 Price went up!\n\n%s %s\n📦 %s\n\n💰 Was: %.0f ₽\n💰 Now: %.0f ₽\n📊 Up %.0f ₽ (+%.1f%%)\n\n🔗 %s",
		emoji, shopTitle(p.Shop), p.Name, oldPrice, p.Price, rise, percent, p.URL)
}

func shopEmoji(s Shop) string {
	if s == ShopWildberries {
		return "🟣"
	}
	return "🔵"
}

func shopTitle(s Shop) string {
	if s == ShopWildberries {
		return "WILDBERRIES"
	}
	return "OZON"
}
