package oracle

import (
	"context"
	"errors"
	"net/http"
	"strconv"
)

var errNoQuote = errors.New("oracle: source returned no quote")

func newGet(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// fetchCoinbase hits Coinbase's spot price endpoint.
func fetchCoinbase(ctx context.Context, client *http.Client) (float64, error) {
	resp, err := newGet(ctx, client, "https://api.coinbase.com/v2/prices/BTC-USD/spot")
	if err != nil {
		return 0, err
	}

	var body struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return 0, err
	}

	return strconv.ParseFloat(body.Data.Amount, 64)
}

// fetchKraken hits Kraken's public ticker endpoint for the XBTUSD pair.
func fetchKraken(ctx context.Context, client *http.Client) (float64, error) {
	resp, err := newGet(ctx, client, "https://api.kraken.com/0/public/Ticker?pair=XBTUSD")
	if err != nil {
		return 0, err
	}

	var body struct {
		Result map[string]struct {
			C []string `json:"c"` // last trade closed: [price, lot volume]
		} `json:"result"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return 0, err
	}

	for _, pair := range body.Result {
		if len(pair.C) > 0 {
			return strconv.ParseFloat(pair.C[0], 64)
		}
	}
	return 0, errNoQuote
}

// fetchBinance hits Binance's public ticker price endpoint for BTCUSDT.
func fetchBinance(ctx context.Context, client *http.Client) (float64, error) {
	resp, err := newGet(ctx, client, "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT")
	if err != nil {
		return 0, err
	}

	var body struct {
		Price string `json:"price"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return 0, err
	}

	return strconv.ParseFloat(body.Price, 64)
}
