package market

import (
	"testing"

	"github.com/rickgao/pricefeed/internal/model"
)

func TestClassifyShape(t *testing.T) {
	tests := []struct {
		symbol string
		want   model.AssetClass
	}{
		{"BTC-USDT", model.AssetCrypto},
		{"eth-usdt", model.AssetCrypto},
		{"ETH/BTC", model.AssetCrypto},
		{"BTC-USDT-SWAP", model.AssetCrypto},
		{"SOLUSDT", model.AssetCrypto},
		{"DOGE_USDC", model.AssetCrypto},
		{"ES=F", model.AssetFutures},
		{"ESH5", model.AssetFutures},
		{"NQZ24", model.AssetFutures},
		{"AAPL", model.AssetEquity},
		{"MSFT", model.AssetEquity},
		{"BRK-B", model.AssetEquity},
		{"USDT", model.AssetEquity},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := ClassifyShape(tt.symbol); got != tt.want {
				t.Errorf("ClassifyShape(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestClassifier_KnownListsWin(t *testing.T) {
	c := NewClassifier([]string{"gc"}, []string{"coin"})

	if got := c.Classify("GC"); got != model.AssetFutures {
		t.Errorf("Classify(GC) = %q, want %q", got, model.AssetFutures)
	}
	if got := c.Classify("COIN"); got != model.AssetEquity {
		t.Errorf("Classify(COIN) = %q, want %q", got, model.AssetEquity)
	}
	if got := c.Classify("BTC-USDT"); got != model.AssetCrypto {
		t.Errorf("Classify(BTC-USDT) = %q, want %q", got, model.AssetCrypto)
	}
}

func TestClassifier_Add(t *testing.T) {
	c := NewClassifier(nil, nil)

	if got := c.Classify("WEIRDUSDT"); got != model.AssetCrypto {
		t.Fatalf("Classify(WEIRDUSDT) = %q, want %q", got, model.AssetCrypto)
	}

	c.Add("weirdusdt", model.AssetEquity)

	if got := c.Classify("WEIRDUSDT"); got != model.AssetEquity {
		t.Errorf("Classify(WEIRDUSDT) after Add = %q, want %q", got, model.AssetEquity)
	}

	known := c.Known()
	if len(known) != 1 || known[0] != "WEIRDUSDT" {
		t.Errorf("Known() = %v, want [WEIRDUSDT]", known)
	}
}
