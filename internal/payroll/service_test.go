package payroll_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payline.org/internal/org"
	"payline.org/internal/payroll"
	"payline.org/internal/store/memory"
)

func TestServiceEnforcesMembership(t *testing.T) {
	ctx := context.Background()
	orgs := org.NewService(memory.NewOrganizations(nil))
	o, err := orgs.CreateOrganization(ctx, "owner", "Acme", "")
	require.NoError(t, err)
	_, err = orgs.AddMember(ctx, "owner", o.ID, "operator", org.RoleFinanceOperator)
	require.NoError(t, err)

	store := memory.NewPayroll()
	svc := payroll.NewService(orgs.Guard(), store, store)

	r, err := svc.CreateRecipient(ctx, "operator", o.ID, payroll.RecipientInput{
		Name: "Alice", WalletAddress: walletA, Rate: dec("10"), PayCycle: payroll.PayCycleMonthly,
	})
	require.NoError(t, err)

	p, err := svc.Preview(ctx, "operator", o.ID, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, "5.00000000", payroll.FormatAmount(p.Deficit))

	run, err := svc.RecordRun(ctx, "operator", o.ID, payroll.RecordInput{
		ExternalReference: "tx-1",
		Items:             []payroll.Item{{RecipientID: r.ID, Amount: r.Rate}},
	})
	require.NoError(t, err)
	assert.Equal(t, "operator", run.RecordedBy)

	_, err = svc.Preview(ctx, "stranger", o.ID, dec("5"))
	assert.ErrorIs(t, err, org.ErrNotAMember)
	_, err = svc.ListRuns(ctx, "owner", "missing-org", payroll.RunFilter{})
	assert.ErrorIs(t, err, org.ErrOrganizationNotFound)
}
