package credit

import "time"

// BalanceResponse represents the balance in API
type BalanceResponse struct {
	Balance             int `json:"balance"`
	SubscriptionCredits int `json:"subscription_credits"`
	PurchasedCredits    int `json:"purchased_credits"`
}

// BalanceResponseFromEntity converts a balance to a response
func BalanceResponseFromEntity(b Balance) *BalanceResponse {
	return &BalanceResponse{
		Balance:             b.Total(),
		SubscriptionCredits: b.SubscriptionCredits,
		PurchasedCredits:    b.PurchasedCredits,
	}
}

// TransactionResponse represents a ledger entry in API
type TransactionResponse struct {
	ID          string    `json:"id"`
	AmountDelta int       `json:"amount_delta"`
	TxType      string    `json:"tx_type"`
	JobID       *string   `json:"job_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionResponseFromEntity converts a ledger entry to a response
func TransactionResponseFromEntity(t Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:          t.ID.String(),
		AmountDelta: t.AmountDelta,
		TxType:      string(t.TxType),
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}

	if t.JobID != nil {
		jobID := t.JobID.String()
		resp.JobID = &jobID
	}

	return resp
}
