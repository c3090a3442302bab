package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

var paramNames = map[string]string{
	"Type":        "type",
	"TimeInForce": "time_in_force",
}

// validationErrors renders validator output as one message per field.
func validationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", fe.Field()))
		case "required_if":
			cond := strings.Fields(fe.Param())
			out = append(out, fmt.Sprintf("%s is required when %s is %s", fe.Field(), paramNames[cond[0]], cond[len(cond)-1]))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return out
}

type PlaceOrderInput struct {
	AccountID     string             `json:"account_id" validate:"required"`
	UserID        string             `json:"user_id" validate:"required"`
	ClientOrderID string             `json:"client_order_id,omitempty" validate:"omitempty,max=64"`
	Symbol        string             `json:"symbol" validate:"required"`
	Side          domain.Side        `json:"side" validate:"required,oneof=BUY SELL"`
	Type          domain.OrderType   `json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Quantity      decimal.Decimal    `json:"quantity"`
	Price         *decimal.Decimal   `json:"price,omitempty" validate:"required_if=Type LIMIT,required_if=Type STOP_LIMIT"`
	StopPrice     *decimal.Decimal   `json:"stop_price,omitempty" validate:"required_if=Type STOP,required_if=Type STOP_LIMIT"`
	TimeInForce   domain.TimeInForce `json:"time_in_force,omitempty" validate:"omitempty,oneof=GTC IOC FOK GTD"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty" validate:"required_if=TimeInForce GTD"`
}

// Intent checks the input structurally and converts it into the variant
// for its order type.
func (in PlaceOrderInput) Intent() (domain.OrderIntent, []string) {
	if err := validate.Struct(in); err != nil {
		return nil, validationErrors(err)
	}
	var errs []string
	if !in.Quantity.IsPositive() {
		errs = append(errs, "quantity must be > 0")
	}
	if in.Price != nil && !in.Price.IsPositive() {
		errs = append(errs, "price must be > 0")
	}
	if in.StopPrice != nil && !in.StopPrice.IsPositive() {
		errs = append(errs, "stop_price must be > 0")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	hdr := domain.IntentHeader{
		AccountID:     in.AccountID,
		UserID:        in.UserID,
		ClientOrderID: in.ClientOrderID,
		Symbol:        in.Symbol,
		Side:          in.Side,
		Quantity:      in.Quantity,
	}
	tif := in.TimeInForce
	if tif == "" {
		tif = domain.GTC
	}
	var expires time.Time
	if in.ExpiresAt != nil {
		expires = *in.ExpiresAt
	}

	switch in.Type {
	case domain.Market:
		return domain.MarketIntent{IntentHeader: hdr}, nil
	case domain.Limit:
		return domain.LimitIntent{IntentHeader: hdr, Price: *in.Price, TimeInForce: tif, ExpiresAt: expires}, nil
	case domain.Stop:
		return domain.StopIntent{IntentHeader: hdr, StopPrice: *in.StopPrice}, nil
	default:
		return domain.StopLimitIntent{IntentHeader: hdr, Price: *in.Price, StopPrice: *in.StopPrice, TimeInForce: tif, ExpiresAt: expires}, nil
	}
}

type PlaceOrderResult struct {
	Success           bool               `json:"success"`
	OrderID           string             `json:"order_id,omitempty"`
	Status            domain.OrderStatus `json:"status,omitempty"`
	FilledQuantity    decimal.Decimal    `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal    `json:"remaining_quantity"`
	AveragePrice      decimal.Decimal    `json:"average_price"`
	Trades            []*domain.Trade    `json:"trades,omitempty"`
	RejectCode        domain.RejectCode  `json:"reject_code,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
	Errors            []string           `json:"errors,omitempty"`
}

type CancelOrderInput struct {
	OrderID   string `json:"order_id" validate:"required"`
	AccountID string `json:"account_id" validate:"required"`
}

type CancelOrderResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
