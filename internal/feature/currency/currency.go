// Package currency is the /usd and /btc front-end: CBR daily rates and
// CoinGecko spot prices.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"zvonbot/internal/router"
	"zvonbot/internal/transport"
	logx "zvonbot/pkg/logx"
)

const (
	cbrURL       = "https://www.cbr-xml-daily.ru/daily_json.js"
	coingeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd,rub"
)

type Feature struct {
	http *http.Client
	log  logx.Logger
}

func New(log logx.Logger) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "usd",
			Description: "USD/RUB rate (CBR)",
			Usage:       "/usd",
			Feature:     "currency",
			Timeout:     15 * time.Second,
			Handle:      f.cmdUSD,
		},
		{
			Name:        "btc",
			Description: "Bitcoin price",
			Usage:       "/btc",
			Feature:     "currency",
			Timeout:     15 * time.Second,
			Handle:      f.cmdBTC,
		},
	}
}

func (f *Feature) cmdUSD(ctx context.Context, req *router.Request) error {
	var data struct {
		Valute struct {
			USD struct {
				Value float64 `json:"Value"`
			} `json:"USD"`
		} `json:"Valute"`
	}
	if err := f.getJSON(ctx, cbrURL, &data); err != nil {
		req.Logger.Warn("cbr fetch failed", logx.Err(err))
		return reply(ctx, req, "❌ Could not fetch the USD rate.")
	}
	if data.Valute.USD.Value == 0 {
		return reply(ctx, req, "❌ Unexpected data from the rate service.")
	}
	return reply(ctx, req, fmt.Sprintf("💵 USD/RUB\n1 USD = %.2f ₽", data.Valute.USD.Value))
}

func (f *Feature) cmdBTC(ctx context.Context, req *router.Request) error {
	var data struct {
		Bitcoin struct {
			USD float64 `json:"usd"`
			RUB float64 `json:"rub"`
		} `json:"bitcoin"`
	}
	if err := f.getJSON(ctx, coingeckoURL, &data); err != nil {
		req.Logger.Warn("coingecko fetch failed", logx.Err(err))
		return reply(ctx, req, "❌ Could not fetch the BTC price.")
	}
	if data.Bitcoin.USD == 0 {
		return reply(ctx, req, "❌ Unexpected data from the price service.")
	}
	return reply(ctx, req, fmt.Sprintf("₿ Bitcoin:\n1 BTC = $%.0f\n1 BTC = %.0f ₽", data.Bitcoin.USD, data.Bitcoin.RUB))
}

func (f *Feature) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}
