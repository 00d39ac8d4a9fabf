package payroll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payline.org/internal/ids"
	"payline.org/internal/wallet"
)

const maxRecipientNameLength = 200

// Recipients validates and persists recipient changes.
type Recipients struct {
	store RecipientStore
	now   func() time.Time
}

func NewRecipients(store RecipientStore) *Recipients {
	return &Recipients{store: store, now: time.Now}
}

type RecipientInput struct {
	Name          string
	WalletAddress string
	Rate          decimal.Decimal
	PayCycle      PayCycle
}

func (rs *Recipients) Create(ctx context.Context, orgID string, in RecipientInput) (Recipient, error) {
	name, err := recipientName(in.Name)
	if err != nil {
		return Recipient{}, err
	}
	addr, err := wallet.NormalizeAddress(in.WalletAddress)
	if err != nil {
		return Recipient{}, fmt.Errorf("%w: wallet_address: %v", ErrInvalidInput, err)
	}
	if err := validatePositive("rate", in.Rate); err != nil {
		return Recipient{}, err
	}
	cycle, err := ParsePayCycle(string(in.PayCycle))
	if err != nil {
		return Recipient{}, err
	}
	now := rs.now().UTC()
	return rs.store.CreateRecipient(ctx, Recipient{
		ID:             ids.NewAt(now),
		OrganizationID: orgID,
		Name:           name,
		WalletAddress:  addr,
		Rate:           in.Rate,
		PayCycle:       cycle,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (rs *Recipients) Get(ctx context.Context, orgID, id string) (Recipient, error) {
	return rs.store.GetRecipient(ctx, orgID, id)
}

func (rs *Recipients) List(ctx context.Context, orgID string, includeArchived bool) ([]Recipient, error) {
	return rs.store.ListRecipients(ctx, orgID, includeArchived)
}

// Update changes name, rate or pay cycle. The wallet address is fixed for the
// life of a recipient; archive and re-create to change it.
func (rs *Recipients) Update(ctx context.Context, orgID, id string, upd RecipientUpdate) (Recipient, error) {
	if upd.Name == nil && upd.Rate == nil && upd.PayCycle == nil {
		return Recipient{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if upd.Name != nil {
		name, err := recipientName(*upd.Name)
		if err != nil {
			return Recipient{}, err
		}
		upd.Name = &name
	}
	if upd.Rate != nil {
		if err := validatePositive("rate", *upd.Rate); err != nil {
			return Recipient{}, err
		}
	}
	if upd.PayCycle != nil {
		cycle, err := ParsePayCycle(string(*upd.PayCycle))
		if err != nil {
			return Recipient{}, err
		}
		upd.PayCycle = &cycle
	}
	return rs.store.UpdateRecipient(ctx, orgID, id, upd, rs.now().UTC())
}

// Archive deactivates a recipient. Archiving twice is a no-op.
func (rs *Recipients) Archive(ctx context.Context, orgID, id string) (Recipient, error) {
	return rs.store.ArchiveRecipient(ctx, orgID, id, rs.now().UTC())
}

func recipientName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxRecipientNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxRecipientNameLength)
	}
	return name, nil
}
