package wallet

import (
	"time"

	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Balance is a point-in-time view of a wallet's funds.
type Balance struct {
	WalletID  string
	OwnerID   string
	Kind      ledger.Kind
	Currency  string
	Amount    int64
	Formatted string
	AsOf      time.Time
}
