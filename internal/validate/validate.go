// Package validate normalizes raw product identifiers (shortforms or
// marketplace URLs) into canonical "symbol/id" strings, and parses the
// USER:PASS@HOST:PORT proxy string format, per §4.1 of the order pipeline.
package validate

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/marketorder/gateway/internal/model"
)

// Kind distinguishes the validation failure taxonomy named in the spec.
type Kind string

const (
	InvalidFormat     Kind = "InvalidFormat"
	InvalidURL        Kind = "InvalidUrl"
	InvalidSymbol     Kind = "InvalidSymbol"
	SymbolUnavailable Kind = "SymbolUnavailable"
	InvalidID         Kind = "InvalidId"
)

// Error reports which raw input failed and why.
type Error struct {
	Kind  Kind
	Input string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Input)
}

func fail(kind Kind, input string) error {
	return &Error{Kind: kind, Input: input}
}

var allSymbols = map[model.Symbol]bool{
	model.SymbolOzon:        true,
	model.SymbolWildberries: true,
	model.SymbolYandex:      true,
	model.SymbolMegamarket:  true,
}

var (
	shortformRe = regexp.MustCompile(`^([a-z]{2})/(.+)$`)
	digitsRe    = regexp.MustCompile(`^\d+$`)

	ozonURLRe    = regexp.MustCompile(`^https://www\.ozon\.ru/product/([a-zA-Z0-9-]+)/?`)
	wbURLRe      = regexp.MustCompile(`^https://www\.wildberries\.ru/catalog/(\d+)/detail\.aspx`)
	yandexURLRe  = regexp.MustCompile(`^https://market\.yandex\.ru/product/(\d+)\?.*\bsku=(\d+)\b.*\buniqueId=(\d+)\b`)
	megamarketRe = regexp.MustCompile(`^https://megamarket\.ru/catalog/details/.*-(\d+)/?$`)

	proxyRe = regexp.MustCompile(`^([^:@]+):([^:@]+)@([^:@]+):(\d+)$`)
)

// AvailableMarkets restricts which symbols Normalize accepts; it mirrors
// the configured Api.available_markets set.
type AvailableMarkets map[model.Symbol]bool

// NewAvailableMarkets builds the set from configured shortform strings.
func NewAvailableMarkets(symbols []string) AvailableMarkets {
	m := make(AvailableMarkets, len(symbols))
	for _, s := range symbols {
		m[model.Symbol(s)] = true
	}
	return m
}

// Normalize parses a raw product string (shortform or recognized
// marketplace URL) into its canonical "symbol/id" form.
func Normalize(raw string, markets AvailableMarkets) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fail(InvalidFormat, raw)
	}

	symbol, id, err := parse(raw)
	if err != nil {
		return "", err
	}

	if !allSymbols[symbol] {
		return "", fail(InvalidSymbol, raw)
	}
	if !markets[symbol] {
		return "", fail(SymbolUnavailable, raw)
	}
	if err := validateID(symbol, id); err != nil {
		return "", err
	}

	canonical := string(symbol) + "/" + id
	if len(canonical) < 7 {
		return "", fail(InvalidID, raw)
	}
	return canonical, nil
}

func parse(raw string) (model.Symbol, string, error) {
	if strings.HasPrefix(raw, "https://") {
		return parseURL(raw)
	}
	m := shortformRe.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fail(InvalidFormat, raw)
	}
	return model.Symbol(m[1]), m[2], nil
}

func parseURL(raw string) (model.Symbol, string, error) {
	switch {
	case ozonURLRe.MatchString(raw):
		slug := ozonURLRe.FindStringSubmatch(raw)[1]
		id := slug
		if idx := strings.LastIndex(slug, "-"); idx >= 0 {
			id = slug[idx+1:]
		}
		return model.SymbolOzon, id, nil
	case wbURLRe.MatchString(raw):
		return model.SymbolWildberries, wbURLRe.FindStringSubmatch(raw)[1], nil
	case yandexURLRe.MatchString(raw):
		m := yandexURLRe.FindStringSubmatch(raw)
		return model.SymbolYandex, m[1] + "-" + m[2] + "-" + m[3], nil
	case megamarketRe.MatchString(raw):
		return model.SymbolMegamarket, megamarketRe.FindStringSubmatch(raw)[1], nil
	default:
		return "", "", fail(InvalidURL, raw)
	}
}

func validateID(symbol model.Symbol, id string) error {
	switch symbol {
	case model.SymbolOzon, model.SymbolWildberries, model.SymbolMegamarket:
		if !digitsRe.MatchString(id) {
			return fail(InvalidID, id)
		}
	case model.SymbolYandex:
		parts := strings.SplitN(id, "-", 3)
		if len(parts) != 3 {
			return fail(InvalidID, id)
		}
		for _, p := range parts {
			if !digitsRe.MatchString(p) {
				return fail(InvalidID, id)
			}
		}
	}
	return nil
}

// BuildProduct turns a normalized "symbol/id" key into a canonical
// model.Product carrying the marketplace fetch/display URLs.
func BuildProduct(canonicalKey string) model.Product {
	symbol, id, _ := strings.Cut(canonicalKey, "/")
	p := model.Product{Symbol: model.Symbol(symbol), ID: id}
	switch p.Symbol {
	case model.SymbolOzon:
		p.FetchURL = "https://www.ozon.ru/product/" + id + "/"
		p.DisplayURL = p.FetchURL
	case model.SymbolWildberries:
		p.FetchURL = fmt.Sprintf("https://card.wb.ru/cards/v4/detail?nm=%s", id)
		p.DisplayURL = "https://www.wildberries.ru/catalog/" + id + "/detail.aspx"
	case model.SymbolYandex:
		parts := strings.SplitN(id, "-", 3)
		if len(parts) == 3 {
			p.SKU = parts[1]
			p.FetchURL = fmt.Sprintf("https://market.yandex.ru/product/%s?sku=%s&uniqueId=%s", parts[0], parts[1], parts[2])
			p.DisplayURL = p.FetchURL
		}
	case model.SymbolMegamarket:
		p.FetchURL = "https://megamarket.ru/catalog/details/item-" + id + "/"
		p.DisplayURL = p.FetchURL
	}
	return p
}

// Proxy is a parsed USER:PASS@HOST:PORT proxy specification.
type Proxy struct {
	Username string
	Password string
	Host     string
	Port     uint16
}

// Addr returns "host:port".
func (p Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// NormalizedOrder is an Order with its products validated, deduplicated,
// and converted to canonical keys, and its proxies parsed.
type NormalizedOrder struct {
	ProductKeys []string
	Proxies     []Proxy
}

// Order validates and normalizes every entry of products and proxyPool, aborting on
// the first failure (order-level validation aborts on first failure and
// reports the offender, per §4.1).
func Order(products, proxyPool []string, markets AvailableMarkets) (NormalizedOrder, error) {
	if len(products) == 0 {
		return NormalizedOrder{}, fail(InvalidFormat, "")
	}
	seen := make(map[string]struct{}, len(products))
	keys := make([]string, 0, len(products))
	for _, raw := range products {
		key, err := Normalize(raw, markets)
		if err != nil {
			return NormalizedOrder{}, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	proxies := make([]Proxy, 0, len(proxyPool))
	for _, raw := range proxyPool {
		p, err := ParseProxy(raw)
		if err != nil {
			return NormalizedOrder{}, err
		}
		proxies = append(proxies, p)
	}
	return NormalizedOrder{ProductKeys: keys, Proxies: proxies}, nil
}

// ParseProxy parses the USER:PASS@HOST:PORT format used by Order.ProxyPool.
func ParseProxy(s string) (Proxy, error) {
	m := proxyRe.FindStringSubmatch(s)
	if m == nil {
		return Proxy{}, fail(InvalidFormat, s)
	}
	host := m[3]
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	} else {
		return Proxy{}, fail(InvalidFormat, s)
	}
	port, err := strconv.ParseUint(m[4], 10, 16)
	if err != nil {
		return Proxy{}, fail(InvalidFormat, s)
	}
	return Proxy{Username: m[1], Password: m[2], Host: host, Port: uint16(port)}, nil
}
