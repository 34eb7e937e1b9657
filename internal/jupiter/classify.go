package jupiter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/httpx"
)

// classifyQuoteError maps a transport failure from the quote endpoint onto
// the error taxonomy. Bad requests carrying liquidity wording mean the pool
// cannot absorb the trade; other bad requests are malformed quote requests;
// a 404 means the pair does not exist. Transient failures arrive already
// classified (and already retried) by the transport.
func classifyQuoteError(err error, amount decimal.Decimal, source, dest string) error {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest:
			msg := upstreamMessage(statusErr.StatusCode, statusErr.Body)
			if liquidityWording(msg) {
				return planerr.New(planerr.KindInsufficientLiquidity,
					fmt.Sprintf("Not enough liquidity for %s %s -> %s", amount, source, dest))
			}
			return planerr.New(planerr.KindQuoteRequest, "Invalid quote request: "+msg)
		case http.StatusNotFound:
			return planerr.New(planerr.KindAssetPairNotFound,
				fmt.Sprintf("Token pair not found: %s -> %s", source, dest))
		default:
			return planerr.New(planerr.KindQuoteRequest,
				fmt.Sprintf("Jupiter API error: %d", statusErr.StatusCode))
		}
	}

	var decodeErr *httpx.DecodeError
	if errors.As(err, &decodeErr) {
		return planerr.Wrap(planerr.KindQuoteRequest, "Invalid response from Jupiter API", decodeErr)
	}

	var typed *planerr.Error
	if errors.As(err, &typed) {
		return err
	}
	return planerr.Wrap(planerr.KindQuoteRequest, "Failed to get quote", err)
}

// classifyBuildError is the swap-building counterpart: every bad request
// becomes an execution-build failure rather than a quote failure.
func classifyBuildError(err error) error {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusBadRequest {
			msg := upstreamMessage(statusErr.StatusCode, statusErr.Body)
			return planerr.New(planerr.KindExecutionBuild, "Failed to build transaction: "+msg)
		}
		return planerr.New(planerr.KindExecutionBuild,
			fmt.Sprintf("Jupiter API error: %d", statusErr.StatusCode))
	}

	var decodeErr *httpx.DecodeError
	if errors.As(err, &decodeErr) {
		return planerr.Wrap(planerr.KindExecutionBuild, "Invalid response from Jupiter API", decodeErr)
	}

	var typed *planerr.Error
	if errors.As(err, &typed) {
		return err
	}
	return planerr.Wrap(planerr.KindExecutionBuild, "Failed to build transaction", err)
}

func classifyPriceError(err error, token string) error {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return planerr.New(planerr.KindQuoteRequest,
			fmt.Sprintf("Failed to get price for %s: HTTP %d", token, statusErr.StatusCode))
	}

	var decodeErr *httpx.DecodeError
	if errors.As(err, &decodeErr) {
		return planerr.Wrap(planerr.KindQuoteRequest, "Invalid response from Jupiter price API", decodeErr)
	}

	var typed *planerr.Error
	if errors.As(err, &typed) {
		return err
	}
	return planerr.Wrap(planerr.KindQuoteRequest, fmt.Sprintf("Failed to get price for %s", token), err)
}

// upstreamMessage extracts a human-readable message from an upstream error
// body, preferring the JSON "error" field, then "message", then the raw
// body truncated to 200 bytes.
func upstreamMessage(status int, body []byte) string {
	var m struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err == nil {
		if m.Error != "" {
			return m.Error
		}
		if m.Message != "" {
			return m.Message
		}
	}
	text := string(body)
	if len(text) > 200 {
		text = text[:200]
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}

func liquidityWording(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "insufficient") || strings.Contains(lower, "liquidity")
}
