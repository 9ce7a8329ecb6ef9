// Package movies is the /movie front-end: curated picks by genre.
package movies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zvonbot/internal/router"
	"zvonbot/internal/transport"
)

type genre struct {
	key    string
	name   string
	movies []string
}

var genres = []genre{
	{"1", "comedy", []string{"The Mask", "The Intouchables", "Forrest Gump", "Home Alone", "Green Book"}},
	{"2", "action", []string{"John Wick", "Crank", "Men in Black", "Mission: Impossible", "The Dark Knight"}},
	{"3", "horror", []string{"It", "Friday the 13th", "A Nightmare on Elm Street", "Halloween", "Insidious"}},
	{"4", "thriller", []string{"Fight Club", "Shutter Island", "Legend", "Limitless", "Wrath of Man"}},
	{"5", "fantasy", []string{"Harry Potter", "The Lord of the Rings", "Avatar", "Deadpool", "Thor"}},
}

type Feature struct{}

func New() *Feature { return &Feature{} }

func (f *Feature) Commands() []router.Command {
	return []router.Command{{
		Name:        "movie",
		Description: "movie picks by genre",
		Usage:       "/movie [genre]",
		Feature:     "movies",
		Timeout:     10 * time.Second,
		Handle:      f.cmdMovie,
	}}
}

func (f *Feature) cmdMovie(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		lines := []string{"🎬 Pick a genre with /movie <number or name>:"}
		for _, g := range genres {
			lines = append(lines, fmt.Sprintf("%s. %s", g.key, capitalize(g.name)))
		}
		return reply(ctx, req, strings.Join(lines, "\n"))
	}

	choice := strings.ToLower(strings.TrimSpace(req.Args[0]))
	for _, g := range genres {
		if choice != g.key && choice != g.name {
			continue
		}
		lines := []string{fmt.Sprintf("🎥 Top %s picks:", g.name)}
		for i, m := range g.movies {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, m))
		}
		return reply(ctx, req, strings.Join(lines, "\n"))
	}
	return reply(ctx, req, "❌ Unknown genre. Pick a number from 1 to 5 or a genre name.")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}
