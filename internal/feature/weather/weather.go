// Package weather is the /weather front-end backed by OpenWeatherMap.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zvonbot/internal/router"
	"zvonbot/internal/transport"
	logx "zvonbot/pkg/logx"
	"zvonbot/pkg/tgui"
)

const apiURL = "https://api.openweathermap.org/data/2.5/weather"

type Feature struct {
	apiKey string
	http   *http.Client
	log    logx.Logger
}

func New(apiKey string, log logx.Logger) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (f *Feature) Commands() []router.Command {
	return []router.Command{{
		Name:        "weather",
		Aliases:     []string{"w"},
		Description: "current weather for a city",
		Usage:       "/weather <city>",
		Feature:     "weather",
		Timeout:     15 * time.Second,
		Handle:      f.cmdWeather,
	}}
}

type report struct {
	City        string
	Temp        float64
	FeelsLike   float64
	Humidity    int
	Description string
	WindSpeed   float64
}

func (f *Feature) cmdWeather(ctx context.Context, req *router.Request) error {
	city := strings.TrimSpace(strings.Join(req.RawArgs, " "))
	if city == "" {
		return reply(ctx, req, "❌ Name a city after the command.\nExample: <code>/weather Moscow</code>")
	}
	if f.apiKey == "" {
		return reply(ctx, req, "❌ Weather is not configured on this bot.")
	}

	rep, apiErr, err := f.fetch(ctx, city)
	if err != nil {
		req.Logger.Warn("weather fetch failed", logx.String("city", city), logx.Err(err))
		return reply(ctx, req, "❌ Could not reach the weather service.")
	}
	if apiErr != "" {
		return reply(ctx, req, "❌ "+tgui.Esc(apiErr).String())
	}

	return reply(ctx, req, strings.Join([]string{
		"🌤 <b>Weather in "+tgui.Esc(rep.City).String()+"</b>",
		"",
		fmt.Sprintf("🌡 Temperature: %.1f°C (feels like %.1f°C)", rep.Temp, rep.FeelsLike),
		"☁️ " + tgui.Esc(rep.Description).String(),
		fmt.Sprintf("💧 Humidity: %d%%", rep.Humidity),
		fmt.Sprintf("💨 Wind: %.1f m/s", rep.WindSpeed),
	}, "\n"))
}

// fetch returns (report, userFacingAPIError, transportError).
func (f *Feature) fetch(ctx context.Context, city string) (report, string, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", f.apiKey)
	q.Set("units", "metric")

	reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return report{}, "", err
	}
	resp, err := f.http.Do(reqHTTP)
	if err != nil {
		return report{}, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return report{}, "", err
	}

	var data struct {
		Cod     json.RawMessage `json:"cod"` // number on success, string on error
		Message string          `json:"message"`
		Name    string          `json:"name"`
		Main    struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return report{}, "", fmt.Errorf("weather response: %w", err)
	}

	cod := strings.Trim(string(data.Cod), `"`)
	if cod != "200" {
		if cod == "404" {
			return report{}, fmt.Sprintf("City %q not found.", city), nil
		}
		msg := data.Message
		if msg == "" {
			msg = "unknown error"
		}
		return report{}, "Weather API error: " + msg, nil
	}

	rep := report{
		City:      data.Name,
		Temp:      data.Main.Temp,
		FeelsLike: data.Main.FeelsLike,
		Humidity:  data.Main.Humidity,
		WindSpeed: data.Wind.Speed,
	}
	if rep.City == "" {
		rep.City = city
	}
	if len(data.Weather) > 0 {
		d := data.Weather[0].Description
		if d != "" {
			rep.Description = strings.ToUpper(d[:1]) + d[1:]
		}
	}
	return rep, "", nil
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}
