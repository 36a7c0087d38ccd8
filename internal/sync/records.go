package sync

import (
	"github.com/mmynk/ledgersync/internal/models"
)

func obligationRecord(ob *models.Obligation) ObligationRecord {
	return ObligationRecord{
		ID:               ob.RemoteID,
		ClientID:         ob.ID,
		Type:             string(ob.Direction),
		Counterparty:     ob.Counterparty,
		Date:             Time(ob.Date),
		Description:      ob.Description,
		Currency:         ob.Currency,
		MobileNumber:     ob.MobileNumber,
		PrincipalAmount:  NewAmount(ob.PrincipalAmount),
		RemainingAmount:  NewAmount(ob.RemainingAmount),
		SettlementAmount: NewAmount(ob.SettlementAmount),
		InterestAmount:   NewAmount(ob.InterestAmount),
		Status:           string(ob.Status),
		CreatedAt:        Time(ob.CreatedAt),
		UpdatedAt:        Time(ob.UpdatedAt),
		ClientUpdatedAt:  Time(ob.UpdatedAt),
	}
}

func settlementRecord(st *models.Settlement) SettlementRecord {
	return SettlementRecord{
		ID:              st.RemoteID,
		ClientID:        st.ID,
		BookEntryID:     st.ObligationID,
		Amount:          NewAmount(st.Amount),
		Date:            Time(st.Date),
		Description:     st.Description,
		CreatedAt:       Time(st.CreatedAt),
		UpdatedAt:       Time(st.UpdatedAt),
		ClientUpdatedAt: Time(st.UpdatedAt),
	}
}

func deleteRecord(id string, updatedAt int64) DeleteRecord {
	return DeleteRecord{ClientID: id, ClientUpdatedAt: Time(updatedAt)}
}

// firstSet returns the first non-zero timestamp.
func firstSet(values ...Time) int64 {
	for _, v := range values {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}

// pulledObligation maps a server record onto a local row. The server's
// version replaces every business field; only the local reminder handle and,
// when the server omits it, the remote id survive from the existing row.
func pulledObligation(rec ObligationRecord, fallback models.Direction, userID string, serverTime int64, existing *models.Obligation) *models.Obligation {
	direction, ok := models.ParseDirection(rec.Type)
	if !ok {
		direction = fallback
	}
	status, _ := models.ParseStatus(rec.Status)

	updatedAt := firstSet(rec.UpdatedAt, rec.ClientUpdatedAt, Time(serverTime))
	ob := &models.Obligation{
		ID:               rec.ClientID,
		UserID:           userID,
		Direction:        direction,
		Counterparty:     rec.Counterparty,
		Date:             int64(rec.Date),
		Description:      rec.Description,
		Currency:         rec.Currency,
		MobileNumber:     rec.MobileNumber,
		PrincipalAmount:  rec.PrincipalAmount.Decimal,
		RemainingAmount:  rec.RemainingAmount.Decimal,
		SettlementAmount: rec.SettlementAmount.Decimal,
		InterestAmount:   rec.InterestAmount.Decimal,
		Status:           status,
		RemoteID:         rec.ID,
		IsDirty:          false,
		CreatedAt:        firstSet(rec.CreatedAt, Time(updatedAt)),
		UpdatedAt:        updatedAt,
	}
	if rec.DeletedAt != 0 {
		deletedAt := int64(rec.DeletedAt)
		ob.DeletedAt = &deletedAt
	}

	if existing != nil {
		// A reminder only makes sense while the obligation is outstanding.
		if !ob.IsSettled() && !ob.IsDeleted() {
			ob.NotificationID = existing.NotificationID
		}
		if ob.RemoteID == "" {
			ob.RemoteID = existing.RemoteID
		}
		if rec.CreatedAt == 0 {
			ob.CreatedAt = existing.CreatedAt
		}
	}
	return ob
}

func pulledSettlement(rec SettlementRecord, serverTime int64, existing *models.Settlement) *models.Settlement {
	updatedAt := firstSet(rec.UpdatedAt, rec.ClientUpdatedAt, Time(serverTime))
	st := &models.Settlement{
		ID:           rec.ClientID,
		ObligationID: rec.BookEntryID,
		Amount:       rec.Amount.Decimal,
		Date:         int64(rec.Date),
		Description:  rec.Description,
		RemoteID:     rec.ID,
		IsDirty:      false,
		CreatedAt:    firstSet(rec.CreatedAt, Time(updatedAt)),
		UpdatedAt:    updatedAt,
	}
	if rec.DeletedAt != 0 {
		deletedAt := int64(rec.DeletedAt)
		st.DeletedAt = &deletedAt
	}

	if existing != nil {
		if st.RemoteID == "" {
			st.RemoteID = existing.RemoteID
		}
		if st.ObligationID == "" {
			st.ObligationID = existing.ObligationID
		}
		if rec.CreatedAt == 0 {
			st.CreatedAt = existing.CreatedAt
		}
	}
	return st
}
