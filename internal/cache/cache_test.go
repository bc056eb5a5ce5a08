package cache

import (
	"sync"
	"testing"

	"github.com/rickgao/pricefeed/internal/model"
)

func sample(symbol string, ts int64, price float64, src model.Source) model.PriceSample {
	return model.PriceSample{Symbol: symbol, Price: price, Timestamp: ts, Source: src}
}

func TestPriceCache_GetEmpty(t *testing.T) {
	c := New()

	if _, ok := c.Get("BTC-USDT"); ok {
		t.Error("expected no cached sample")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestPriceCache_OutOfOrderRejected(t *testing.T) {
	c := New()

	r := c.Update(sample("BTC-USDT", 100, 10, model.SourceStream))
	if !r.Accepted {
		t.Fatal("first sample should be accepted")
	}

	r = c.Update(sample("BTC-USDT", 90, 99, model.SourcePoll))
	if r.Accepted {
		t.Error("earlier-timestamped sample should be rejected")
	}

	got, ok := c.Get("BTC-USDT")
	if !ok {
		t.Fatal("sample not found")
	}
	if got.Price != 10 {
		t.Errorf("Price = %v, want 10", got.Price)
	}
	if got.Timestamp != 100 {
		t.Errorf("Timestamp = %d, want 100", got.Timestamp)
	}
}

func TestPriceCache_DuplicateTimestampRejected(t *testing.T) {
	c := New()

	c.Update(sample("ETH-USDT", 100, 10, model.SourceStream))
	r := c.Update(sample("ETH-USDT", 100, 11, model.SourcePoll))

	if r.Accepted {
		t.Error("duplicate timestamp should be rejected, not merged")
	}
	if got, _ := c.Get("ETH-USDT"); got.Price != 10 {
		t.Errorf("Price = %v, want 10", got.Price)
	}

	stats := c.Stats()
	if stats.Accepted != 1 || stats.Rejected != 1 {
		t.Errorf("Stats = %+v, want 1 accepted, 1 rejected", stats)
	}
}

func TestPriceCache_DirectionSequence(t *testing.T) {
	c := New()

	prices := []float64{100, 105, 105, 102}
	want := []model.Direction{
		model.DirectionNeutral,
		model.DirectionUp,
		model.DirectionNeutral,
		model.DirectionDown,
	}

	for i, p := range prices {
		r := c.Update(sample("AAPL", int64(i+1)*1000, p, model.SourcePoll))
		if !r.Accepted {
			t.Fatalf("sample %d not accepted", i)
		}
		if r.Direction != want[i] {
			t.Errorf("sample %d: Direction = %q, want %q", i, r.Direction, want[i])
		}
	}
}

func TestPriceCache_DirectionAcrossSources(t *testing.T) {
	c := New()

	c.Update(sample("BTC-USDT", 1, 100, model.SourcePoll))
	c.Update(sample("BTC-USDT", 2, 110, model.SourceStream))

	// Direction compares to the cached price (110 from stream), not the last poll (100).
	r := c.Update(sample("BTC-USDT", 3, 105, model.SourcePoll))
	if r.Direction != model.DirectionDown {
		t.Errorf("Direction = %q, want %q", r.Direction, model.DirectionDown)
	}
}

func TestPriceCache_SymbolsIndependent(t *testing.T) {
	c := New()

	c.Update(sample("B", 100, 1, model.SourceStream))
	r := c.Update(sample("A", 50, 2, model.SourceStream))
	if !r.Accepted {
		t.Error("timestamps are per symbol")
	}

	syms := c.Symbols()
	if len(syms) != 2 || syms[0] != "A" || syms[1] != "B" {
		t.Errorf("Symbols() = %v, want [A B]", syms)
	}
}

func TestPriceCache_ConcurrentReaders(t *testing.T) {
	c := New()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					c.Get("BTC-USDT")
				}
			}
		}()
	}

	for ts := int64(1); ts <= 1000; ts++ {
		c.Update(sample("BTC-USDT", ts, float64(ts), model.SourceStream))
	}
	close(done)
	wg.Wait()

	if got, _ := c.Get("BTC-USDT"); got.Timestamp != 1000 {
		t.Errorf("Timestamp = %d, want 1000", got.Timestamp)
	}
}
