package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "gridbot/pkg/errors"
	httpclient "gridbot/pkg/http"
)

// apiErrorBody is the venue's error envelope.
type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// mapError normalizes the venue's HTTP and business error codes to the
// stable internal set. Unknown failures pass through wrapped so the
// retry layer treats them as transient.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, apiErr.Body)
	case http.StatusTeapot, http.StatusForbidden:
		return fmt.Errorf("%w: %s", apperrors.ErrDDoSProtection, apiErr.Body)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, apiErr.Body)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", apperrors.ErrExchangeMaintenance, apiErr.Body)
	}

	var body apiErrorBody
	if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr != nil {
		return fmt.Errorf("%w: status %d", apperrors.ErrNetwork, apiErr.StatusCode)
	}

	switch body.Code {
	case -2019: // margin is insufficient
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, body.Msg)
	case -1013, -4164: // filter failure / notional too small
		return fmt.Errorf("%w: %s", apperrors.ErrMinNotional, body.Msg)
	case -1111, -4003: // bad precision / quantity
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrder, body.Msg)
	case -2011: // unknown order on cancel
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, body.Msg)
	case -1121:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, body.Msg)
	case -2014, -2015, -1022: // api key / signature rejected
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, body.Msg)
	case -4015:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, body.Msg)
	case -1003:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, body.Msg)
	}

	return fmt.Errorf("%w: code %d: %s", apperrors.ErrOrderRejected, body.Code, body.Msg)
}
