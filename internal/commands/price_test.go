package commands

import (
	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"levels-telegram-bot/internal/price"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestCommandPrice(t *testing.T) {
	var requests int
	svc := price.NewServiceWithClient(coinpaprika.NewClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests++
		if strings.Contains(r.URL.Path, "/search") {
			return jsonResponse(http.StatusOK,
				`{"currencies":[{"id":"btc-bitcoin","name":"Bitcoin","symbol":"BTC"}]}`), nil
		}
		return jsonResponse(http.StatusOK,
			`{"id":"btc-bitcoin","name":"Bitcoin","symbol":"BTC",`+
				`"quotes":{"USD":{"price":68000.42,"percent_change_24h":1.96}}}`), nil
	})}))

	text, err := CommandPrice(svc, "btc")
	require.NoError(t, err)
	assert.Contains(t, text, "*Bitcoin price:*")
	assert.Contains(t, text, "`68,000`")
	assert.Contains(t, text, `\(\+1\.96%\)`)

	// A repeat inside the cache window must not touch the API again.
	before := requests
	again, err := CommandPrice(svc, "btc")
	require.NoError(t, err)
	assert.Equal(t, text, again)
	assert.Equal(t, before, requests)
}

func TestCommandPriceUnknownCoin(t *testing.T) {
	svc := price.NewServiceWithClient(coinpaprika.NewClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"currencies":[]}`), nil
	})}))

	_, err := CommandPrice(svc, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command /p")
	assert.Contains(t, err.Error(), "invalid coin name, ticker, or symbol")
}
