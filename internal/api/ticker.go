package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/pricefeed/internal/codec"
	"github.com/rickgao/pricefeed/internal/model"
)

// ErrNoData is returned when the exchange answers with an empty data array.
var ErrNoData = errors.New("no ticker data")

// FetchSnapshot fetches the latest ticker for symbol.
// Concurrent calls for the same symbol share one HTTP request. A caller whose
// ctx ends stops waiting without failing the others; the shared request is
// bounded by the HTTP timeout and retry limit instead.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (model.RawTicker, error) {
	ch := c.flight.DoChan(symbol, func() (any, error) {
		return c.fetchTicker(context.WithoutCancel(ctx), symbol)
	})

	select {
	case <-ctx.Done():
		return model.RawTicker{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.RawTicker{}, res.Err
		}
		return res.Val.(model.RawTicker), nil
	}
}

func (c *Client) fetchTicker(ctx context.Context, symbol string) (model.RawTicker, error) {
	query := url.Values{}
	query.Set("instId", symbol)

	var rows []codec.Ticker
	if err := c.get(ctx, "/api/v5/market/ticker", query, &rows); err != nil {
		return model.RawTicker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	if len(rows) == 0 {
		return model.RawTicker{}, fmt.Errorf("fetch ticker %s: %w", symbol, ErrNoData)
	}

	row := rows[0]
	if row.InstID != "" && !strings.EqualFold(row.InstID, symbol) {
		return model.RawTicker{}, fmt.Errorf("fetch ticker %s: %w: got %s", symbol, model.ErrSymbolMismatch, row.InstID)
	}

	raw, err := row.Raw(symbol)
	if err != nil {
		return model.RawTicker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	return raw, nil
}
