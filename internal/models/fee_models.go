package models

type FeeTier struct {
	MinAmount int64  `json:"min_amount" yaml:"min_amount"`
	MaxAmount *int64 `json:"max_amount,omitempty" yaml:"max_amount"`
	FeeAmount int64  `json:"fee_amount" yaml:"fee_amount"`
	Provider  string `json:"provider,omitempty" yaml:"provider"`
}

// Contains проверяет попадание суммы в полосу, границы включительно.
func (t FeeTier) Contains(amount int64) bool {
	if amount < t.MinAmount {
		return false
	}
	return t.MaxAmount == nil || amount <= *t.MaxAmount
}

func (t FeeTier) IsGlobal() bool {
	return t.Provider == ""
}
