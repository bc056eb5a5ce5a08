package market

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rickgao/pricefeed/internal/model"
)

// quoteCurrencies are settlement assets that mark a symbol as a crypto pair
// when they appear as a separated segment (BTC-USDT, ETH/BTC, BTC-USDT-SWAP).
var quoteCurrencies = map[string]struct{}{
	"USDT": {}, "USDC": {}, "USD": {}, "BUSD": {}, "DAI": {},
	"BTC": {}, "ETH": {}, "EUR": {}, "TRY": {},
}

// gluedQuotes are suffixes recognised without a separator (BTCUSDT).
// Plain "USD" is excluded: too many equity tickers end in it.
var gluedQuotes = []string{"USDT", "USDC", "BUSD"}

// futuresContract matches exchange contract codes: root, month letter, year (ESH5, NQZ24).
var futuresContract = regexp.MustCompile(`^[A-Z]{1,3}[FGHJKMNQUVXZ][0-9]{1,2}$`)

// Classifier determines the AssetClass of a symbol.
type Classifier struct {
	mu sync.RWMutex

	// Explicit assignments (upper-cased symbol -> class).
	known map[string]model.AssetClass
}

// NewClassifier creates a Classifier seeded with known instrument lists.
func NewClassifier(futures, equities []string) *Classifier {
	c := &Classifier{
		known: make(map[string]model.AssetClass, len(futures)+len(equities)),
	}
	for _, s := range futures {
		c.known[normalize(s)] = model.AssetFutures
	}
	for _, s := range equities {
		c.known[normalize(s)] = model.AssetEquity
	}
	return c
}

// Classify returns the AssetClass for a symbol.
func (c *Classifier) Classify(symbol string) model.AssetClass {
	sym := normalize(symbol)

	c.mu.RLock()
	class, ok := c.known[sym]
	c.mu.RUnlock()
	if ok {
		return class
	}

	return ClassifyShape(sym)
}

// Add assigns a class to a symbol, overriding shape-based classification.
func (c *Classifier) Add(symbol string, class model.AssetClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[normalize(symbol)] = class
}

// Known returns the explicitly classified symbols in sorted order.
func (c *Classifier) Known() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.known))
	for s := range c.known {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// ClassifyShape classifies a symbol purely from its textual shape.
func ClassifyShape(symbol string) model.AssetClass {
	sym := normalize(symbol)

	if strings.HasSuffix(sym, "=F") || futuresContract.MatchString(sym) {
		return model.AssetFutures
	}

	if segments := strings.FieldsFunc(sym, isSeparator); len(segments) > 1 {
		for _, seg := range segments[1:] {
			if _, ok := quoteCurrencies[seg]; ok {
				return model.AssetCrypto
			}
		}
	}

	for _, q := range gluedQuotes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			return model.AssetCrypto
		}
	}

	return model.AssetEquity
}

func isSeparator(r rune) bool {
	return r == '-' || r == '/' || r == '_'
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
