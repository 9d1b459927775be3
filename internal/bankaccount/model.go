package bankaccount

import "time"

// Account types accepted when linking a bank account.
const (
	TypeSavings  = "SAVINGS"
	TypeChecking = "CHECKING"
	TypeCurrent  = "CURRENT"
)

// BankAccount is an external bank account linked to a user. Only verified
// accounts may fund deposits or receive withdrawals.
type BankAccount struct {
	ID            string
	UserID        string
	BankName      string
	AccountNumber string
	AccountType   string
	Verified      bool
	CreatedAt     time.Time
}
