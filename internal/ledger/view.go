package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// View is the JSON shape of a transaction returned by the HTTP API.
type View struct {
	ID          string           `json:"id"`
	Type        Kind             `json:"type"`
	SenderID    string           `json:"senderId"`
	ReceiverID  string           `json:"receiverId,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	AssetType   Asset            `json:"assetType"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	Reference   string           `json:"reference,omitempty"`
	Status      Status           `json:"status"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NewView converts a transaction for serialisation.
func NewView(t Transaction) View {
	v := View{
		ID:          t.ID,
		Type:        t.Kind,
		SenderID:    t.SenderID,
		ReceiverID:  t.ReceiverID,
		Amount:      t.Amount,
		AssetType:   t.Asset,
		Reference:   t.Reference,
		Status:      t.Status,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if !t.UnitPrice.IsZero() {
		price := t.UnitPrice
		v.UnitPrice = &price
	}
	return v
}
