package payroll_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payline.org/internal/payroll"
	"payline.org/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func addRecipient(t *testing.T, rs *payroll.Recipients, orgID, name, walletAddr, rate string) payroll.Recipient {
	t.Helper()
	r, err := rs.Create(context.Background(), orgID, payroll.RecipientInput{
		Name:          name,
		WalletAddress: walletAddr,
		Rate:          dec(rate),
		PayCycle:      payroll.PayCycleMonthly,
	})
	require.NoError(t, err)
	return r
}

func TestPreviewExampleRoster(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPayroll()
	rs := payroll.NewRecipients(store)
	engine := payroll.NewEngine(store)

	addRecipient(t, rs, "org", "B", "0x000000000000000000000000000000000000000b", "250.50000000")
	addRecipient(t, rs, "org", "A", "0x000000000000000000000000000000000000000a", "100.00000000")
	c := addRecipient(t, rs, "org", "C", "0x000000000000000000000000000000000000000c", "999")
	_, err := rs.Archive(ctx, "org", c.ID)
	require.NoError(t, err)
	addRecipient(t, rs, "other-org", "D", "0x000000000000000000000000000000000000000d", "5")

	p, err := engine.Preview(ctx, "org", dec("300"))
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "A", p.Items[0].Name)
	assert.Equal(t, "B", p.Items[1].Name)
	assert.Equal(t, "350.50000000", payroll.FormatAmount(p.Total))
	assert.False(t, p.IsSufficient)
	assert.Equal(t, "50.50000000", payroll.FormatAmount(p.Deficit))

	p, err = engine.Preview(ctx, "org", dec("350.5"))
	require.NoError(t, err)
	assert.True(t, p.IsSufficient)
	assert.True(t, p.Deficit.IsZero())
}

func TestPreviewEmptyRoster(t *testing.T) {
	p, err := payroll.NewEngine(memory.NewPayroll()).Preview(context.Background(), "org", decimal.Zero)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.True(t, p.Total.IsZero())
	assert.True(t, p.IsSufficient)
	assert.Equal(t, "0.00000000", payroll.FormatAmount(p.Deficit))
}

func TestPreviewSumsSmallFractionsExactly(t *testing.T) {
	store := memory.NewPayroll()
	rs := payroll.NewRecipients(store)
	for i := 0; i < 10; i++ {
		addRecipient(t, rs, "org", fmt.Sprintf("R%d", i), fmt.Sprintf("0x%040x", i+1), "0.1")
	}
	p, err := payroll.NewEngine(store).Preview(context.Background(), "org", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, "1.00000000", payroll.FormatAmount(p.Total))
	assert.True(t, p.IsSufficient)
}

func TestPreviewSufficiencyProperty(t *testing.T) {
	store := memory.NewPayroll()
	rs := payroll.NewRecipients(store)
	addRecipient(t, rs, "org", "Only", "0x00000000000000000000000000000000000000ff", "12.34567890")
	engine := payroll.NewEngine(store)
	total := dec("12.3456789")

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		balance := decimal.New(rng.Int63n(3_000_000_000), -8)
		p, err := engine.Preview(context.Background(), "org", balance)
		require.NoError(t, err)
		assert.Equal(t, balance.GreaterThanOrEqual(total), p.IsSufficient)
		want := total.Sub(balance)
		if want.IsNegative() {
			want = decimal.Zero
		}
		assert.True(t, want.Equal(p.Deficit), "balance %s deficit %s", balance, p.Deficit)
	}

	_, err := engine.Preview(context.Background(), "org", dec("-1"))
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)
}
