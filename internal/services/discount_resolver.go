package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/api/internal/domain"
)

const (
	candidateSourceCounterparty = "counterparty"
	candidateSourceCashback     = "cashback_grant"
)

// Selection is the outcome of discount/cashback auto-selection.
type Selection struct {
	DiscountID    int64
	DiscountValue decimal.Decimal
	CashbackID    int64
	TargetRole    domain.CashbackTargetRole
}

// IsEmpty reports whether neither a discount nor a cashback is selected.
func (s Selection) IsEmpty() bool {
	return s.DiscountID == 0 && s.CashbackID == 0
}

// DiscountCashbackResolver builds discount and cashback candidates for a sender/recipient pair.
type DiscountCashbackResolver struct{}

// Resolve returns matching discount candidates followed by matching cashback candidates.
// Discounts with a non-positive value are skipped; cashback grants are never filtered by amount.
func (DiscountCashbackResolver) Resolve(senderID, recipientID int64, discounts []domain.DiscountCounterparty, cashbacks []domain.CashbackGrant) []Candidate {
	matches := func(id int64) bool {
		return id != 0 && (id == senderID || id == recipientID)
	}

	candidates := make([]Candidate, 0, len(discounts)+len(cashbacks))
	for _, record := range discounts {
		if !matches(record.ID) || !record.Discount.IsPositive() {
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:           domain.CandidateDiscount,
			ID:             record.ID,
			CounterpartyID: record.ID,
			Value:          record.Discount,
			Label:          discountLabel(record),
			Source:         candidateSourceCounterparty,
		})
	}
	for _, grant := range cashbacks {
		if !matches(grant.CounterpartyID) {
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:           domain.CandidateCashback,
			ID:             grant.ID,
			CounterpartyID: grant.CounterpartyID,
			Value:          grant.Amount,
			Label:          cashbackLabel(grant),
			Source:         candidateSourceCashback,
		})
	}
	return candidates
}

// AutoSelect applies the precedence rule: the first cashback wins, then the first discount,
// otherwise nothing is selected.
func (DiscountCashbackResolver) AutoSelect(senderID, recipientID int64, candidates []Candidate) Selection {
	if senderID == 0 && recipientID == 0 {
		return Selection{}
	}
	for _, candidate := range candidates {
		if candidate.Kind == domain.CandidateCashback {
			return selectionFor(candidate, senderID)
		}
	}
	for _, candidate := range candidates {
		if candidate.Kind == domain.CandidateDiscount {
			return selectionFor(candidate, senderID)
		}
	}
	return Selection{}
}

func selectionFor(candidate Candidate, senderID int64) Selection {
	switch candidate.Kind {
	case domain.CandidateCashback:
		role := domain.CashbackTargetReceiver
		if candidate.CounterpartyID == senderID {
			role = domain.CashbackTargetSender
		}
		return Selection{CashbackID: candidate.ID, TargetRole: role}
	case domain.CandidateDiscount:
		return Selection{DiscountID: candidate.ID, DiscountValue: candidate.Value}
	default:
		return Selection{}
	}
}

func discountLabel(record domain.DiscountCounterparty) string {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		name = fmt.Sprintf("counterparty %d", record.ID)
	}
	return fmt.Sprintf("%s: discount %s", name, record.Discount.String())
}

func cashbackLabel(grant domain.CashbackGrant) string {
	if label := strings.TrimSpace(grant.Label); label != "" {
		return label
	}
	return fmt.Sprintf("cashback %s for counterparty %d", grant.Amount.String(), grant.CounterpartyID)
}
