// Package opendax implements the wallet adapter for an opendax-style vault gateway: a REST service that keeps the
// signing keys and exposes address creation, balance reads and transaction broadcast over HTTPS.
package opendax

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/util"
	"github.com/tarancss/custody/lib/wallet"
)

// Gas defaults applied when the currency options leave them out.
const (
	defaultGasLimit = 90000
	defaultGasSpeed = "standard"

	clientTimeout = 10 * time.Second
)

var gasPriceThresholds = []string{"standard", "safelow", "fast"}

// Opendax is the gateway adapter. Configure must run before any other method.
type Opendax struct {
	wallet   wallet.WalletSettings
	currency wallet.CurrencySettings
	client   *http.Client
}

// New returns an unconfigured adapter instance.
func New() wallet.Adapter {
	return &Opendax{}
}

// Configure validates the settings and resets the HTTP client. The gateway CA is read from the SSL_CERT_PATH
// environment variable; without one, certificate verification is disabled as self-signed gateways are common in
// private deployments.
func (o *Opendax) Configure(s wallet.Settings) error {
	// clean client state during configure
	o.client = nil

	if s.Wallet == nil {
		return wallet.MissingSettingError{Key: "wallet"}
	}

	if s.Currency == nil {
		return wallet.MissingSettingError{Key: "currency"}
	}

	if s.Wallet.URI == "" {
		return wallet.MissingSettingError{Key: "wallet.uri"}
	}

	if s.Wallet.GatewayURL == "" {
		return wallet.MissingSettingError{Key: "wallet.gateway_url"}
	}

	o.wallet, o.currency = *s.Wallet, *s.Currency

	tlsConf := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // see doc comment
	if caPath := os.Getenv("SSL_CERT_PATH"); caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return fmt.Errorf("cannot read SSL_CERT_PATH: %w", err)
		}

		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		tlsConf = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	o.client = &http.Client{
		Timeout:   clientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConf},
	}

	return nil
}

// coinType is "eth" for ERC20 tokens (the gateway routes by chain, not by token), the currency id otherwise.
func (o *Opendax) coinType() string {
	if o.currency.Contract != "" {
		return "eth"
	}

	return o.currency.ID
}

// restAPI posts the params to the gateway path and decodes the JSON reply into out. Transport and non-2xx failures
// come back as ClientError.
func (o *Opendax) restAPI(ctx context.Context, path string, params, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.wallet.URI+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return wallet.ClientError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return wallet.ClientError{Err: fmt.Errorf("gateway replied %s to %s", res.Status, path)}
	}

	if err = json.NewDecoder(res.Body).Decode(out); err != nil {
		return wallet.ClientError{Err: err}
	}

	return nil
}

// CreateAddress asks the gateway for a new receiving address.
func (o *Opendax) CreateAddress(ctx context.Context, opts wallet.AddressOpts) (wallet.Address, error) {
	var response map[string]interface{}

	err := o.restAPI(ctx, "/wallet/new", map[string]interface{}{"coin_type": o.coinType()}, &response)
	if err != nil {
		return wallet.Address{}, err
	}

	addr := wallet.Address{Details: map[string]string{}}
	for k, v := range response {
		s, _ := v.(string)
		switch k {
		case "address":
			addr.Address = s
		case "passphrase":
			addr.Secret = s
		default:
			addr.Details[k] = s
		}
	}

	return addr, nil
}

// CreateTransaction broadcasts tx through the gateway and returns it with Hash filled in.
func (o *Opendax) CreateTransaction(ctx context.Context, tx wallet.Transaction) (wallet.Transaction, error) {
	params := map[string]interface{}{
		"coin_type":    o.coinType(),
		"to":           tx.ToAddress,
		"amount":       tx.Amount.String(),
		"gateway_url":  o.wallet.GatewayURL,
		"wallet_index": o.wallet.WalletIndex,
		"passphrase":   o.wallet.Secret,
	}

	if o.coinType() == "eth" {
		for k, v := range o.ethParams(tx) {
			params[k] = v
		}
	}

	var response struct {
		Tx string `json:"tx"`
	}

	if err := o.restAPI(ctx, "/tx/send", params, &response); err != nil {
		return tx, err
	}

	tx.Hash = response.Tx

	return tx, nil
}

// ethParams builds the gas parameters for account-based sends. A per-transaction gas_price option wins; otherwise
// the configured speed threshold is passed as gas_speed.
func (o *Opendax) ethParams(tx wallet.Transaction) map[string]interface{} {
	params := map[string]interface{}{}

	gasLimit := o.currency.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	params["gas_limit"] = gasLimit

	if gp, ok := tx.Options["gas_price"]; ok {
		params["gas_price"] = gp
	} else if util.In(gasPriceThresholds, o.currency.GasPrice) {
		params["gas_speed"] = o.currency.GasPrice
	} else {
		params["gas_speed"] = defaultGasSpeed
	}

	if o.currency.Contract != "" {
		params["contract_address"] = o.currency.Contract
	}

	return params
}

// LoadBalance reads the wallet balance from the gateway. Account-based chains report in base units and are
// converted with the currency's base factor.
func (o *Opendax) LoadBalance(ctx context.Context) (decimal.Decimal, error) {
	params := map[string]interface{}{
		"coin_type":   o.coinType(),
		"gateway_url": o.wallet.GatewayURL,
	}
	if o.currency.Contract != "" {
		params["contract_address"] = o.currency.Contract
	}

	var response struct {
		Balance json.Number `json:"balance"`
	}

	if err := o.restAPI(ctx, "/wallet/balance", params, &response); err != nil {
		return decimal.Zero, err
	}

	if o.coinType() == "eth" {
		raw, ok := new(big.Int).SetString(response.Balance.String(), 10)
		if !ok {
			return decimal.Zero, wallet.ClientError{Err: fmt.Errorf("bad balance %q", response.Balance)}
		}

		return util.FromBaseUnit(raw, o.currency.BaseFactor), nil
	}

	return decimal.NewFromString(response.Balance.String())
}

// CollectDeposit broadcasts one transaction per unhashed spread leg, in order. A failed leg ends the batch.
func (o *Opendax) CollectDeposit(ctx context.Context, dep store.Deposit,
	spread []store.SpreadLeg) ([]wallet.Transaction, error) {
	txs := make([]wallet.Transaction, 0, len(spread))

	for _, leg := range spread {
		if leg.Hash != "" {
			continue
		}

		tx, err := o.CreateTransaction(ctx, wallet.Transaction{
			Currency:  dep.Currency,
			ToAddress: leg.ToAddress,
			Amount:    leg.Amount,
		})
		if err != nil {
			return txs, err
		}

		txs = append(txs, tx)
	}

	return txs, nil
}

// BuildWithdrawal broadcasts the withdrawal to its destination address.
func (o *Opendax) BuildWithdrawal(ctx context.Context, wd store.Withdraw) (wallet.Transaction, error) {
	return o.CreateTransaction(ctx, wallet.Transaction{
		Currency:  wd.Currency,
		ToAddress: wd.RID,
		Amount:    wd.Amount,
	})
}
