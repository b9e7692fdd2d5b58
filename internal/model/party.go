package model

// Party is a merchant as seen by the party directory
type Party struct {
	ID        string              `json:"id"`
	Shops     map[string]Shop     `json:"shops"`
	Contracts map[string]Contract `json:"contracts"`
}

// Shop belongs to a party and is bound to one contract
type Shop struct {
	ID           string      `json:"id"`
	ContractID   string      `json:"contractId"`
	PayoutToolID string      `json:"payoutToolId,omitempty"`
	Account      ShopAccount `json:"account"`
}

// ShopAccount holds the ledger accounts of a shop
type ShopAccount struct {
	Currency   string `json:"currency"`
	Settlement int64  `json:"settlement"`
	Guarantee  int64  `json:"guarantee"`
	Payout     int64  `json:"payout"`
}

// Contract lists the payout tools available to its shops
type Contract struct {
	ID          string       `json:"id"`
	PayoutTools []PayoutTool `json:"payoutTools"`
}

// PayoutTool is an instrument a payout can be sent to
type PayoutTool struct {
	ID       string         `json:"id"`
	Currency string         `json:"currency"`
	Kind     PayoutToolKind `json:"kind"`
	WalletID string         `json:"walletId,omitempty"`
}

// FindPayoutTool returns the tool with the given id, if the contract has it
func (c Contract) FindPayoutTool(id string) (PayoutTool, bool) {
	for _, tool := range c.PayoutTools {
		if tool.ID == id {
			return tool, true
		}
	}
	return PayoutTool{}, false
}

// CashFlowAccount is one end of a computed posting
type CashFlowAccount struct {
	AccountID   int64       `json:"accountId"`
	AccountKind AccountKind `json:"accountType"`
}

// FinalCashFlowPosting is a posting computed by the party directory for a
// prospective payout, before it is stored.
type FinalCashFlowPosting struct {
	Source      CashFlowAccount `json:"source"`
	Destination CashFlowAccount `json:"destination"`
	Volume      Cash            `json:"volume"`
	Details     string          `json:"details,omitempty"`
}
