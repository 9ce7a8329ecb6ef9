package pricewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zvonbot/internal/engine"
	"zvonbot/internal/router"
	"zvonbot/internal/transport"
	logx "zvonbot/pkg/logx"
	"zvonbot/pkg/tgui"
)

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "track",
			Description: "track a Wildberries or Ozon product price",
			Usage:       "/track <link> [target price]",
			Feature:     "price_watch",
			Timeout:     30 * time.Second,
			Handle:      f.cmdTrack,
		},
		{
			Name:        "tracked",
			Description: "list tracked products",
			Usage:       "/tracked",
			Feature:     "price_watch",
			Timeout:     10 * time.Second,
			Handle:      f.cmdTracked,
		},
		{
			Name:        "untrack",
			Description: "stop tracking a product by id",
			Usage:       "/untrack <id>",
			Feature:     "price_watch",
			Timeout:     10 * time.Second,
			Handle:      f.cmdUntrack,
		},
	}
}

func (f *Feature) cmdTrack(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return reply(ctx, req, strings.Join([]string{
			"📊 <b>Price tracking for Wildberries and Ozon</b>",
			"",
			"Usage: <code>/track &lt;link&gt; [target price]</code>",
			"",
			"Examples:",
			"<code>/track https://www.wildberries.ru/catalog/12345/detail.aspx</code>",
			"<code>/track https://www.ozon.ru/product/12345 5000</code>",
		}, "\n"))
	}

	url := req.Args[0]
	var target float64
	if len(req.Args) > 1 {
		v, err := strconv.ParseFloat(req.Args[1], 64)
		if err != nil || v <= 0 {
			return reply(ctx, req, "❌ That target price is not a number.")
		}
		target = v
	}

	shop, id, err := ParseProductURL(url)
	if err != nil {
		if errors.Is(err, ErrUnsupportedShop) {
			return reply(ctx, req, "❌ Only Wildberries and Ozon are supported.")
		}
		return reply(ctx, req, "❌ That does not look like a product link.")
	}

	for _, t := range f.eng.List(req.FromID) {
		if t.Kind != Kind {
			continue
		}
		var p payload
		if json.Unmarshal(t.Payload, &p) == nil && p.ProductID == id && p.Shop == shop {
			return reply(ctx, req, "⚠️ You are already tracking this product.")
		}
	}

	_ = reply(ctx, req, "⏳ Checking the product...")

	prod, err := f.client.Fetch(ctx, shop, id)
	if err != nil {
		req.Logger.Warn("product check failed", logx.Err(err))
		return reply(ctx, req, "❌ Could not fetch product info. Try again later.")
	}

	raw, err := json.Marshal(payload{
		URL:         url,
		ProductID:   prod.ID,
		Shop:        shop,
		Name:        prod.Name,
		Price:       prod.Price,
		TargetPrice: target,
	})
	if err != nil {
		return err
	}

	chat := strconv.FormatInt(req.Chat.ChatID, 10)
	t, err := f.eng.Create(ctx, req.FromID, chat, Kind, raw, time.Now().Add(f.opt.PollInterval), f.opt.PollInterval)
	switch {
	case errors.Is(err, engine.ErrCapacityExceeded):
		return reply(ctx, req, fmt.Sprintf("❌ Limit reached (%d products). Remove one with /untrack first.", f.opt.MaxPerOwner))
	case err != nil:
		return err
	}

	lines := []string{
		"✅ <b>Product added!</b>",
		"",
		shopEmoji(shop) + " " + shopTitle(shop),
		"📦 " + tgui.Esc(prod.Name).String(),
		fmt.Sprintf("💰 Current price: %.0f ₽", prod.Price),
		fmt.Sprintf("🆔 <b>#%d</b>, checked every %s", t.ID, f.opt.PollInterval),
	}
	if target > 0 {
		lines = append(lines, fmt.Sprintf("🎯 Target price: %.0f ₽", target))
		if diff := prod.Price - target; diff > 0 {
			lines = append(lines, fmt.Sprintf("📉 Needs to drop %.0f ₽", diff))
		}
	}
	return reply(ctx, req, strings.Join(lines, "\n"))
}

func (f *Feature) cmdTracked(ctx context.Context, req *router.Request) error {
	var mine []engine.Task
	for _, t := range f.eng.List(req.FromID) {
		if t.Kind == Kind {
			mine = append(mine, t)
		}
	}
	if len(mine) == 0 {
		return reply(ctx, req, "📋 You are not tracking any products. Add one with /track.")
	}

	lines := []string{"📊 <b>Your products</b>", ""}
	for _, t := range mine {
		var p payload
		if json.Unmarshal(t.Payload, &p) != nil {
			continue
		}
		name := tgui.TruncRunes(p.Name, 40)
		line := fmt.Sprintf("<b>#%d</b> %s %s\n   💰 %.0f ₽", t.ID, shopEmoji(p.Shop), tgui.Esc(name), p.Price)
		if p.TargetPrice > 0 {
			line += fmt.Sprintf(" → 🎯 %.0f ₽", p.TargetPrice)
		}
		lines = append(lines, line, "")
	}
	lines = append(lines, fmt.Sprintf("🔄 Checked every %s. Remove with /untrack &lt;id&gt;.", f.opt.PollInterval))
	return reply(ctx, req, strings.Join(lines, "\n"))
}

func (f *Feature) cmdUntrack(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return reply(ctx, req, "Usage: <code>/untrack &lt;id&gt;</code>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil {
		return reply(ctx, req, "That does not look like a tracking id.")
	}

	t, err := f.eng.Get(req.FromID, id)
	if err != nil || t.Kind != Kind {
		return reply(ctx, req, fmt.Sprintf("❌ Tracking #%d not found.", id))
	}
	if err := f.eng.Cancel(ctx, req.FromID, id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return reply(ctx, req, fmt.Sprintf("❌ Tracking #%d not found.", id))
		}
		return err
	}
	return reply(ctx, req, fmt.Sprintf("✅ Tracking #%d removed.", id))
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}
