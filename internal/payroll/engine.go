package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"payline.org/internal/obs"
)

// RosterReader reads an organization's recipients.
type RosterReader interface {
	ListRecipients(ctx context.Context, orgID string, includeArchived bool) ([]Recipient, error)
}

type PreviewItem struct {
	RecipientID   string
	Name          string
	WalletAddress string
	PayCycle      PayCycle
	Amount        decimal.Decimal
}

// Preview is a point-in-time payroll computation against a reported balance.
type Preview struct {
	OrganizationID  string
	Items           []PreviewItem
	Total           decimal.Decimal
	ExternalBalance decimal.Decimal
	IsSufficient    bool
	Deficit         decimal.Decimal
	GeneratedAt     time.Time
}

// Engine computes payroll previews. Every call re-reads the roster.
type Engine struct {
	roster RosterReader
	now    func() time.Time
}

func NewEngine(roster RosterReader) *Engine {
	return &Engine{roster: roster, now: time.Now}
}

// Preview sums the rates of all active recipients of orgID, in name order,
// and compares the total with externalBalance.
func (e *Engine) Preview(ctx context.Context, orgID string, externalBalance decimal.Decimal) (Preview, error) {
	if externalBalance.IsNegative() {
		return Preview{}, fmt.Errorf("%w: balance must not be negative", ErrInvalidInput)
	}
	roster, err := e.roster.ListRecipients(ctx, orgID, false)
	if err != nil {
		return Preview{}, err
	}
	active := make([]Recipient, 0, len(roster))
	for _, r := range roster {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})

	p := Preview{
		OrganizationID:  orgID,
		Items:           make([]PreviewItem, 0, len(active)),
		Total:           decimal.Zero,
		ExternalBalance: externalBalance,
		GeneratedAt:     e.now().UTC(),
	}
	for _, r := range active {
		// no proration: the stored rate is the full amount for the run
		p.Items = append(p.Items, PreviewItem{
			RecipientID:   r.ID,
			Name:          r.Name,
			WalletAddress: r.WalletAddress,
			PayCycle:      r.PayCycle,
			Amount:        r.Rate,
		})
		p.Total = p.Total.Add(r.Rate)
	}
	p.IsSufficient = externalBalance.GreaterThanOrEqual(p.Total)
	p.Deficit = decimal.Max(decimal.Zero, p.Total.Sub(externalBalance))
	if !p.IsSufficient {
		obs.PreviewDeficits.Inc()
	}
	return p, nil
}
