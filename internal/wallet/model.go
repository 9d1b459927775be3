package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a point-in-time view of both of a user's accounts.
type Balance struct {
	UserID string
	Money  decimal.Decimal
	Gold   decimal.Decimal
	AsOf   time.Time
}
