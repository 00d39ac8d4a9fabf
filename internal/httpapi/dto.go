package httpapi

import (
	"time"

	"payline.org/internal/payroll"
)

// Amounts cross the wire as strings with exactly payroll.AmountScale fractional digits.

type recipientDTO struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	WalletAddress  string    `json:"wallet_address"`
	Rate           string    `json:"rate"`
	PayCycle       string    `json:"pay_cycle"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toRecipientDTO(r payroll.Recipient) recipientDTO {
	return recipientDTO{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		WalletAddress:  r.WalletAddress,
		Rate:           payroll.FormatAmount(r.Rate),
		PayCycle:       string(r.PayCycle),
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type previewItemDTO struct {
	RecipientID   string `json:"recipient_id"`
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
	PayCycle      string `json:"pay_cycle"`
	Amount        string `json:"amount"`
}

type previewDTO struct {
	OrganizationID  string           `json:"organization_id"`
	Items           []previewItemDTO `json:"items"`
	Total           string           `json:"total"`
	ExternalBalance string           `json:"external_balance"`
	IsSufficient    bool             `json:"is_sufficient"`
	Deficit         string           `json:"deficit"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

func toPreviewDTO(p payroll.Preview) previewDTO {
	items := make([]previewItemDTO, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, previewItemDTO{
			RecipientID:   it.RecipientID,
			Name:          it.Name,
			WalletAddress: it.WalletAddress,
			PayCycle:      string(it.PayCycle),
			Amount:        payroll.FormatAmount(it.Amount),
		})
	}
	return previewDTO{
		OrganizationID:  p.OrganizationID,
		Items:           items,
		Total:           payroll.FormatAmount(p.Total),
		ExternalBalance: payroll.FormatAmount(p.ExternalBalance),
		IsSufficient:    p.IsSufficient,
		Deficit:         payroll.FormatAmount(p.Deficit),
		GeneratedAt:     p.GeneratedAt,
	}
}

type runItemDTO struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
}

type runDTO struct {
	ID                string       `json:"id"`
	OrganizationID    string       `json:"organization_id"`
	ExternalReference string       `json:"external_reference"`
	Total             string       `json:"total"`
	Status            string       `json:"status"`
	RecordedBy        string       `json:"recorded_by,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	Items             []runItemDTO `json:"items,omitempty"`
}

func toRunDTO(run payroll.Run) runDTO {
	dto := runDTO{
		ID:                run.ID,
		OrganizationID:    run.OrganizationID,
		ExternalReference: run.ExternalReference,
		Total:             payroll.FormatAmount(run.Total),
		Status:            string(run.Status),
		RecordedBy:        run.RecordedBy,
		CreatedAt:         run.CreatedAt,
		UpdatedAt:         run.UpdatedAt,
	}
	for _, it := range run.Items {
		dto.Items = append(dto.Items, runItemDTO{RecipientID: it.RecipientID, Amount: payroll.FormatAmount(it.Amount)})
	}
	return dto
}
