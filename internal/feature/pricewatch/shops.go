package pricewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	logx "zvonbot/pkg/logx"
)

type Shop string

const (
	ShopWildberries Shop = "wildberries"
	ShopOzon        Shop = "ozon"
)

// Product is one shop listing at one point in time.
type Product struct {
	ID    string
	Name  string
	Price float64 // rubles
	Shop  Shop
}

var (
	ErrUnsupportedShop = errors.New("only wildberries.ru and ozon.ru links are supported")
	ErrBadProductURL   = errors.New("could not extract a product id from the link")
	errNoPrice         = errors.New("no price in shop response")
)

var (
	wbArticleRe  = regexp.MustCompile(`/catalog/(\d+)/`)
	ozonIDRe     = regexp.MustCompile(`-(\d+)/?`)
	nonPriceRune = regexp.MustCompile(`[^\d.]`)
)

// ParseProductURL classifies a product link and extracts its id.
func ParseProductURL(url string) (Shop, string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", "", ErrBadProductURL
	}
	switch {
	case strings.Contains(url, "wildberries.ru"):
		m := wbArticleRe.FindStringSubmatch(url)
		if m == nil {
			return "", "", ErrBadProductURL
		}
		return ShopWildberries, m[1], nil
	case strings.Contains(url, "ozon.ru"):
		m := ozonIDRe.FindStringSubmatch(url)
		if m == nil {
			return "", "", ErrBadProductURL
		}
		return ShopOzon, m[1], nil
	default:
		return "", "", ErrUnsupportedShop
	}
}

// Client fetches product cards from the shop APIs.
type Client struct {
	http *http.Client
	log  logx.Logger
}

func NewClient(timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Fetch returns the current card for a previously parsed shop/id pair.
func (c *Client) Fetch(ctx context.Context, shop Shop, id string) (Product, error) {
	switch shop {
	case ShopWildberries:
		return c.fetchWildberries(ctx, id)
	case ShopOzon:
		return c.fetchOzon(ctx, id)
	default:
		return Product{}, ErrUnsupportedShop
	}
}

func (c *Client) fetchWildberries(ctx context.Context, article string) (Product, error) {
	if len(article) < 6 {
		return Product{}, ErrBadProductURL
	}
	vol := article[:len(article)-5]
	part := article[:len(article)-3]
	voln, err := strconv.Atoi(vol)
	if err != nil {
		return Product{}, ErrBadProductURL
	}

	url := fmt.Sprintf("https://basket-%02d.wbbasket.ru/vol%s/part%s/%s/info/ru/card.json",
		wbBasket(voln), vol, part, article)
	body, err := c.get(ctx, url)
	if err != nil {
		return Product{}, err
	}
	p, err := parseWildberriesCard(body)
	if err != nil {
		return Product{}, err
	}
	p.ID = article
	return p, nil
}

// wbBasket maps a Wildberries vol prefix to the basket host serving its card.
// The table mirrors the shop's CDN sharding.
func wbBasket(vol int) int {
	switch {
	case vol <= 143:
		return 1
	case vol <= 287:
		return 2
	case vol <= 431:
		return 3
	case vol <= 719:
		return 4
	case vol <= 1007:
		return 5
	case vol <= 1061:
		return 6
	case vol <= 1115:
		return 7
	case vol <= 1169:
		return 8
	case vol <= 1313:
		return 9
	case vol <= 1601:
		return 10
	case vol <= 1655:
		return 11
	case vol <= 1919:
		return 12
	case vol <= 2045:
		return 13
	case vol <= 2189:
		return 14
	default:
		return 15
	}
}

func parseWildberriesCard(body []byte) (Product, error) {
	var card struct {
		Name     string `json:"imt_name"`
		SaleU    int64  `json:"salePriceU"`
		Extended struct {
			BasicU int64 `json:"basicPriceU"`
		} `json:"extended"`
	}
	if err := json.Unmarshal(body, &card); err != nil {
		return Product{}, fmt.Errorf("wildberries card: %w", err)
	}

	price := float64(card.Extended.BasicU) / 100
	if price == 0 {
		price = float64(card.SaleU) / 100
	}
	if price == 0 {
		return Product{}, errNoPrice
	}
	name := card.Name
	if name == "" {
		name = "Wildberries product"
	}
	return Product{Name: name, Price: price, Shop: ShopWildberries}, nil
}

func (c *Client) fetchOzon(ctx context.Context, id string) (Product, error) {
	url := "https://www.ozon.ru/api/composer-api.bx/page/json/v2?url=/product/" + id + "/"
	body, err := c.get(ctx, url)
	if err != nil {
		return Product{}, err
	}
	p, err := parseOzonPage(body)
	if err != nil {
		return Product{}, err
	}
	p.ID = id
	return p, nil
}

// parseOzonPage digs the product widget out of the composer-api response.
// Widget states arrive as JSON strings keyed by opaque widget ids, so we scan
// for the first one carrying both a name and a price, then fall back to the
// price-only widgets.
func parseOzonPage(body []byte) (Product, error) {
	var page struct {
		WidgetStates map[string]string `json:"widgetStates"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return Product{}, fmt.Errorf("ozon page: %w", err)
	}

	var name, rawPrice string
	for _, v := range page.WidgetStates {
		var w struct {
			Name  string          `json:"name"`
			Price json.RawMessage `json:"price"`
		}
		if json.Unmarshal([]byte(v), &w) != nil {
			continue
		}
		if w.Name != "" && len(w.Price) > 0 {
			name = w.Name
			rawPrice = string(w.Price)
			break
		}
	}
	if rawPrice == "" {
		for k, v := range page.WidgetStates {
			if !strings.Contains(k, "webPrice") && !strings.Contains(k, "webAPrice") {
				continue
			}
			var w struct {
				Price json.RawMessage `json:"price"`
			}
			if json.Unmarshal([]byte(v), &w) == nil && len(w.Price) > 0 {
				rawPrice = string(w.Price)
				break
			}
		}
	}
	if rawPrice == "" {
		return Product{}, errNoPrice
	}

	price, err := strconv.ParseFloat(nonPriceRune.ReplaceAllString(rawPrice, ""), 64)
	if err != nil || price == 0 {
		return Product{}, errNoPrice
	}
	if name == "" {
		name = "Ozon product"
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return Product{Name: name, Price: price, Shop: ShopOzon}, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shop api: status %d", resp.StatusCode)
	}
	// 2 MB is plenty for a product card.
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}
