package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the internal ledger record backing a member's holdings in one currency. Balance is the available
// amount, Locked the amount reserved by in-flight withdrawals. Both are kept non-negative at every commit point.
type Account struct {
	MemberUID string          `json:"member_uid" bson:"member_uid"`
	Currency  string          `json:"currency" bson:"currency"`
	Balance   decimal.Decimal `json:"balance" bson:"-"`
	Locked    decimal.Decimal `json:"locked" bson:"-"`
}

// DepositState enumerates the deposit lifecycle.
type DepositState string

// Deposit lifecycle states.
const (
	DepositPendingAML DepositState = "pending_aml"
	DepositSkipAML    DepositState = "skip_aml"
	DepositSuspicious DepositState = "suspicious"
	DepositProcessing DepositState = "processing"
	DepositCollecting DepositState = "collecting"
	DepositCollected  DepositState = "collected"
	DepositFailed     DepositState = "failed"
)

// depositTransitions is the explicit transition table for deposits. A transition not listed here is invalid and
// must fail loudly; the deliberate wrong-state no-op of the collection worker is applied before any transition is
// attempted, never by silently swallowing an invalid one.
var depositTransitions = map[DepositState][]DepositState{
	DepositPendingAML: {DepositSuspicious, DepositSkipAML, DepositProcessing, DepositFailed},
	DepositSkipAML:    {DepositProcessing, DepositFailed},
	DepositProcessing: {DepositCollecting, DepositCollected, DepositFailed},
	DepositCollecting: {DepositCollected, DepositFailed},
}

// Can returns whether the transition from s to next is allowed.
func (s DepositState) Can(next DepositState) bool {
	for _, t := range depositTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal returns whether s admits no further transitions.
func (s DepositState) Terminal() bool {
	return len(depositTransitions[s]) == 0
}

// SpreadLeg is one partial-sweep leg of a deposit: funds to be moved from the member's receiving address to
// ToAddress. A leg is done once Hash carries the broadcast transaction hash. Legs mutate in place and are never
// reordered.
type SpreadLeg struct {
	ToAddress string          `json:"to_address" bson:"to_address"`
	Amount    decimal.Decimal `json:"amount" bson:"-"`
	Status    string          `json:"status" bson:"status"`
	Hash      string          `json:"hash,omitempty" bson:"hash,omitempty"`
}

// Deposit represents one inbound blockchain credit. Addresses are the source addresses the credit aggregates; the
// AML gate checks every one of them. Spread is the decomposition into independently collectible sweep legs.
type Deposit struct {
	ID        string          `json:"id" bson:"_id"`
	MemberUID string          `json:"member_uid" bson:"member_uid"`
	Currency  string          `json:"currency" bson:"currency"`
	Amount    decimal.Decimal `json:"amount" bson:"-"`
	Fee       decimal.Decimal `json:"fee" bson:"-"`
	Addresses []string        `json:"addresses" bson:"addresses"`
	TxID      string          `json:"txid" bson:"txid"`
	Spread    []SpreadLeg     `json:"spread" bson:"-"`
	State     DepositState    `json:"state" bson:"state"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

// Collected reports whether every spread leg carries a transaction hash. A deposit with no spread yet is not
// collected.
func (d Deposit) Collected() bool {
	if len(d.Spread) == 0 {
		return false
	}
	for _, leg := range d.Spread {
		if leg.Hash == "" {
			return false
		}
	}
	return true
}

// WithdrawState enumerates the withdraw lifecycle.
type WithdrawState string

// Withdraw lifecycle states.
const (
	WithdrawSubmitted  WithdrawState = "submitted"
	WithdrawAccepted   WithdrawState = "accepted"
	WithdrawProcessing WithdrawState = "processing"
	WithdrawConfirming WithdrawState = "confirming"
	WithdrawSucceed    WithdrawState = "succeed"
	WithdrawFailed     WithdrawState = "failed"
	WithdrawSkipped    WithdrawState = "skipped"
	WithdrawErrored    WithdrawState = "errored"
	WithdrawCanceled   WithdrawState = "canceled"
)

// withdrawTransitions is the explicit transition table for withdrawals. skipped and errored re-enter processing
// only through an explicit, externally-triggered retry; confirming resolves through chain-confirmation observation.
var withdrawTransitions = map[WithdrawState][]WithdrawState{
	WithdrawSubmitted:  {WithdrawAccepted, WithdrawCanceled},
	WithdrawAccepted:   {WithdrawProcessing, WithdrawCanceled},
	WithdrawProcessing: {WithdrawConfirming, WithdrawSkipped, WithdrawErrored, WithdrawFailed},
	WithdrawConfirming: {WithdrawSucceed, WithdrawFailed},
	WithdrawSkipped:    {WithdrawProcessing},
	WithdrawErrored:    {WithdrawProcessing},
}

// Can returns whether the transition from s to next is allowed.
func (s WithdrawState) Can(next WithdrawState) bool {
	for _, t := range withdrawTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal returns whether s admits no further transitions. Terminal withdrawals are immutable.
func (s WithdrawState) Terminal() bool {
	return len(withdrawTransitions[s]) == 0
}

// Withdraw represents one outbound request. RID is the member-specified destination address; TxID is filled by the
// dispatch worker once a transaction has been broadcast. Amount is the on-chain send amount; Amount+Fee is locked
// on the member's account while the withdrawal is in flight.
type Withdraw struct {
	ID        string          `json:"id" bson:"_id"`
	MemberUID string          `json:"member_uid" bson:"member_uid"`
	Currency  string          `json:"currency" bson:"currency"`
	Amount    decimal.Decimal `json:"amount" bson:"-"`
	Fee       decimal.Decimal `json:"fee" bson:"-"`
	RID       string          `json:"rid" bson:"rid"`
	TxID      string          `json:"txid" bson:"txid"`
	State     WithdrawState   `json:"state" bson:"state"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

// Sum is the total amount the withdrawal reserves on the ledger.
func (w Withdraw) Sum() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

// WalletKind enumerates the custody endpoint roles.
type WalletKind string

// Wallet kinds.
const (
	WalletHot     WalletKind = "hot"
	WalletDeposit WalletKind = "deposit"
	WalletWarm    WalletKind = "warm"
)

// Wallet is a custody endpoint: the connection settings the adapter needs plus the role the endpoint plays for its
// currency. At most one wallet is active per (currency, kind); the dispatch path selects wallets but never mutates
// them.
type Wallet struct {
	ID          string          `json:"id" bson:"_id"`
	Name        string          `json:"name" bson:"name"`
	Currency    string          `json:"currency" bson:"currency"`
	Kind        WalletKind      `json:"kind" bson:"kind"`
	Adapter     string          `json:"adapter" bson:"adapter"`
	Address     string          `json:"address" bson:"address"`
	URI         string          `json:"uri" bson:"uri"`
	GatewayURL  string          `json:"gateway_url" bson:"gateway_url"`
	Secret      string          `json:"secret" bson:"secret"`
	WalletIndex uint32          `json:"wallet_index" bson:"wallet_index"`
	MaxBalance  decimal.Decimal `json:"max_balance" bson:"-"`
	Active      bool            `json:"active" bson:"active"`
}

// Reference kinds for Transaction rows.
const (
	RefDeposit  = "deposit"
	RefWithdraw = "withdraw"
	RefRefund   = "refund"
)

// Transaction is the immutable record of one broadcast or observed blockchain operation. Rows are append-only: a
// retried broadcast produces a new row, never overwrites one.
type Transaction struct {
	ID          string          `json:"id" bson:"_id,omitempty"`
	Currency    string          `json:"currency" bson:"currency"`
	RefKind     string          `json:"ref_kind" bson:"ref_kind"`
	RefID       string          `json:"ref_id" bson:"ref_id"`
	Hash        string          `json:"hash" bson:"hash"`
	FromAddress string          `json:"from_address" bson:"from_address"`
	ToAddress   string          `json:"to_address" bson:"to_address"`
	Amount      decimal.Decimal `json:"amount" bson:"-"`
	Status      string          `json:"status" bson:"status"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}

// BeneficiaryState enumerates the beneficiary lifecycle.
type BeneficiaryState string

// Beneficiary lifecycle states.
const (
	BeneficiaryPending       BeneficiaryState = "pending"
	BeneficiaryAMLProcessing BeneficiaryState = "aml_processing"
	BeneficiaryActive        BeneficiaryState = "active"
	BeneficiaryRejected      BeneficiaryState = "rejected"
)

var beneficiaryTransitions = map[BeneficiaryState][]BeneficiaryState{
	BeneficiaryPending:       {BeneficiaryAMLProcessing, BeneficiaryActive, BeneficiaryRejected},
	BeneficiaryAMLProcessing: {BeneficiaryActive, BeneficiaryRejected},
}

// Can returns whether the transition from s to next is allowed.
func (s BeneficiaryState) Can(next BeneficiaryState) bool {
	for _, t := range beneficiaryTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Beneficiary is a member-registered withdrawal destination that must clear the AML gate before it can be used.
type Beneficiary struct {
	ID        string           `json:"id" bson:"_id"`
	MemberUID string           `json:"member_uid" bson:"member_uid"`
	Currency  string           `json:"currency" bson:"currency"`
	Address   string           `json:"address" bson:"address"`
	State     BeneficiaryState `json:"state" bson:"state"`
}

// RefundState enumerates the refund lifecycle.
type RefundState string

// Refund lifecycle states.
const (
	RefundPending   RefundState = "pending"
	RefundProcessed RefundState = "processed"
	RefundFailed    RefundState = "failed"
)

var refundTransitions = map[RefundState][]RefundState{
	RefundPending: {RefundProcessed, RefundFailed},
}

// Can returns whether the transition from s to next is allowed.
func (s RefundState) Can(next RefundState) bool {
	for _, t := range refundTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Refund returns a misdirected or overflow deposit back to the sender. Processing a refund is a withdrawal-shaped
// dispatch through the deposit wallet of the currency.
type Refund struct {
	ID        string      `json:"id" bson:"_id"`
	DepositID string      `json:"deposit_id" bson:"deposit_id"`
	Address   string      `json:"address" bson:"address"`
	State     RefundState `json:"state" bson:"state"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}
