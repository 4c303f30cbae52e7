package binance

import (
	"errors"

	"copytrade/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"
)

// wrapError converts an SDK failure into a classified exchange.Error. When
// the SDK does not surface a typed APIError the raw body is probed for a
// numeric code with gjson.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return exchange.NewError(kindForCode(apiErr.Code), apiErr.Code, apiErr.Message)
	}
	if body := gjson.Get(err.Error(), "code"); body.Exists() {
		code := body.Int()
		msg := gjson.Get(err.Error(), "msg").String()
		if msg == "" {
			msg = err.Error()
		}
		return exchange.NewError(kindForCode(code), code, msg)
	}
	return err
}

func kindForCode(code int64) exchange.ErrorKind {
	switch code {
	case -2019: // margin is insufficient
		return exchange.KindInsufficientMargin
	case -2015, -2014, -4087: // invalid key, bad signature, reduce-only perms
		return exchange.KindPermissionDenied
	case -1013, -4003, -1111, -4164: // lot size, quantity, precision, min notional
		return exchange.KindInvalidQuantity
	case -2011: // unknown order sent
		return exchange.KindUnknownOrder
	case -1003, -1021: // rate limit, timestamp drift
		return exchange.KindTransient
	default:
		return exchange.KindOther
	}
}
