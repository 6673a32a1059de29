package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/custody/lib/store"
)

type nullAdapter struct{}

func (nullAdapter) Configure(s Settings) error { return nil }
func (nullAdapter) CreateAddress(ctx context.Context, opts AddressOpts) (Address, error) {
	return Address{}, nil
}
func (nullAdapter) CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	return tx, nil
}
func (nullAdapter) LoadBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (nullAdapter) CollectDeposit(ctx context.Context, dep store.Deposit,
	spread []store.SpreadLeg) ([]Transaction, error) {
	return nil, nil
}
func (nullAdapter) BuildWithdrawal(ctx context.Context, wd store.Withdraw) (Transaction, error) {
	return Transaction{}, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("null", func() Adapter { return nullAdapter{} })

	ad, err := reg.Resolve("null")
	require.NoError(t, err)
	require.NotNil(t, ad)

	_, err = reg.Resolve("vault9000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotRegisteredAdapter), "unknown adapters must fail fast")
	assert.Contains(t, err.Error(), "vault9000")
}

func TestMissingSettingError(t *testing.T) {
	err := MissingSettingError{Key: "wallet.uri"}
	assert.Equal(t, "missing required setting wallet.uri", err.Error())
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ClientError{Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}
