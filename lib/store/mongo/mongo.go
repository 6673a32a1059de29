// Package mongo implements the store interface for MongoDB. Monetary amounts are stored as Decimal128 so balance
// guards and increments run server-side; combined ledger and state mutations run inside one session transaction.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/custody/lib/store"
)

const database = "custody"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) col(name string) *mgo.Collection {
	return m.c.Database(database).Collection(name)
}

func dec128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}
	}

	return v
}

func fromDec128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}

	return d
}

// mongoAccount carries the ledger amounts as Decimal128 so $inc and $gte apply to them server-side.
type mongoAccount struct {
	MemberUID string               `bson:"member_uid"`
	Currency  string               `bson:"currency"`
	Balance   primitive.Decimal128 `bson:"balance"`
	Locked    primitive.Decimal128 `bson:"locked"`
}

type mongoSpreadLeg struct {
	ToAddress string               `bson:"to_address"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Status    string               `bson:"status"`
	Hash      string               `bson:"hash,omitempty"`
}

func toMongoSpread(spread []store.SpreadLeg) []mongoSpreadLeg {
	ms := make([]mongoSpreadLeg, 0, len(spread))
	for _, leg := range spread {
		ms = append(ms, mongoSpreadLeg{
			ToAddress: leg.ToAddress, Amount: dec128(leg.Amount), Status: leg.Status, Hash: leg.Hash,
		})
	}

	return ms
}

func fromMongoSpread(ms []mongoSpreadLeg) []store.SpreadLeg {
	spread := make([]store.SpreadLeg, 0, len(ms))
	for _, leg := range ms {
		spread = append(spread, store.SpreadLeg{
			ToAddress: leg.ToAddress, Amount: fromDec128(leg.Amount), Status: leg.Status, Hash: leg.Hash,
		})
	}

	return spread
}

type mongoDeposit struct {
	ID        string               `bson:"_id"`
	MemberUID string               `bson:"member_uid"`
	Currency  string               `bson:"currency"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Fee       primitive.Decimal128 `bson:"fee"`
	Addresses []string             `bson:"addresses"`
	TxID      string               `bson:"txid"`
	Spread    []mongoSpreadLeg     `bson:"spread"`
	State     store.DepositState   `bson:"state"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d mongoDeposit) deposit() store.Deposit {
	return store.Deposit{
		ID: d.ID, MemberUID: d.MemberUID, Currency: d.Currency,
		Amount: fromDec128(d.Amount), Fee: fromDec128(d.Fee),
		Addresses: d.Addresses, TxID: d.TxID, Spread: fromMongoSpread(d.Spread),
		State: d.State, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type mongoWithdraw struct {
	ID        string               `bson:"_id"`
	MemberUID string               `bson:"member_uid"`
	Currency  string               `bson:"currency"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Fee       primitive.Decimal128 `bson:"fee"`
	RID       string               `bson:"rid"`
	TxID      string               `bson:"txid"`
	State     store.WithdrawState  `bson:"state"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (w mongoWithdraw) withdraw() store.Withdraw {
	return store.Withdraw{
		ID: w.ID, MemberUID: w.MemberUID, Currency: w.Currency,
		Amount: fromDec128(w.Amount), Fee: fromDec128(w.Fee),
		RID: w.RID, TxID: w.TxID, State: w.State, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
	}
}

type mongoWallet struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Currency    string               `bson:"currency"`
	Kind        store.WalletKind     `bson:"kind"`
	Adapter     string               `bson:"adapter"`
	Address     string               `bson:"address"`
	URI         string               `bson:"uri"`
	GatewayURL  string               `bson:"gateway_url"`
	Secret      string               `bson:"secret"`
	WalletIndex uint32               `bson:"wallet_index"`
	MaxBalance  primitive.Decimal128 `bson:"max_balance"`
	Active      bool                 `bson:"active"`
}

func (w mongoWallet) wallet() store.Wallet {
	return store.Wallet{
		ID: w.ID, Name: w.Name, Currency: w.Currency, Kind: w.Kind, Adapter: w.Adapter,
		Address: w.Address, URI: w.URI, GatewayURL: w.GatewayURL, Secret: w.Secret,
		WalletIndex: w.WalletIndex, MaxBalance: fromDec128(w.MaxBalance), Active: w.Active,
	}
}

type mongoTransaction struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	Currency    string               `bson:"currency"`
	RefKind     string               `bson:"ref_kind"`
	RefID       string               `bson:"ref_id"`
	Hash        string               `bson:"hash"`
	FromAddress string               `bson:"from_address"`
	ToAddress   string               `bson:"to_address"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Status      string               `bson:"status"`
	CreatedAt   time.Time            `bson:"created_at"`
}

// GetAccount returns the ledger account or ErrNotFound when the member holds nothing in the currency yet.
func (m *Mongo) GetAccount(ctx context.Context, memberUID, currency string) (store.Account, error) {
	a := store.Account{MemberUID: memberUID, Currency: currency}

	var ma mongoAccount

	err := m.col("accounts").FindOne(ctx, bson.M{"member_uid": memberUID, "currency": currency}).Decode(&ma)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return a, store.ErrNotFound
	}

	if err != nil {
		return a, fmt.Errorf("could not read account: %w", err)
	}

	a.Balance, a.Locked = fromDec128(ma.Balance), fromDec128(ma.Locked)

	return a, nil
}

// PlusFunds credits the available balance, creating the account document on first use.
func (m *Mongo) PlusFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	_, err := m.col("accounts").UpdateOne(ctx,
		bson.M{"member_uid": memberUID, "currency": currency},
		bson.M{"$inc": bson.M{"balance": dec128(amount), "locked": dec128(decimal.Zero)}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not credit account: %w", err)
	}

	return nil
}

// LockFunds moves amount from balance to locked; fails with ErrInsufficientFunds when balance is too low.
func (m *Mongo) LockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	res, err := m.col("accounts").UpdateOne(ctx,
		bson.M{"member_uid": memberUID, "currency": currency, "balance": bson.M{"$gte": dec128(amount)}},
		bson.M{"$inc": bson.M{"balance": dec128(amount.Neg()), "locked": dec128(amount)}})
	if err != nil {
		return fmt.Errorf("could not lock funds: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrInsufficientFunds
	}

	return nil
}

// UnlockFunds moves amount from locked back to balance.
func (m *Mongo) UnlockFunds(ctx context.Context, memberUID, currency string, amount decimal.Decimal) error {
	res, err := m.col("accounts").UpdateOne(ctx,
		bson.M{"member_uid": memberUID, "currency": currency, "locked": bson.M{"$gte": dec128(amount)}},
		bson.M{"$inc": bson.M{"balance": dec128(amount), "locked": dec128(amount.Neg())}})
	if err != nil {
		return fmt.Errorf("could not unlock funds: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrInsufficientFunds
	}

	return nil
}

// AddDeposit inserts a new deposit document.
func (m *Mongo) AddDeposit(ctx context.Context, d store.Deposit) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}

	md := mongoDeposit{
		ID: d.ID, MemberUID: d.MemberUID, Currency: d.Currency,
		Amount: dec128(d.Amount), Fee: dec128(d.Fee),
		Addresses: d.Addresses, TxID: d.TxID, Spread: toMongoSpread(d.Spread),
		State: d.State, CreatedAt: d.CreatedAt, UpdatedAt: now,
	}

	if _, err := m.col("deposits").InsertOne(ctx, md); err != nil {
		return fmt.Errorf("could not insert deposit: %w", err)
	}

	return nil
}

// GetDeposit returns the deposit or ErrNotFound.
func (m *Mongo) GetDeposit(ctx context.Context, id string) (store.Deposit, error) {
	var md mongoDeposit

	err := m.col("deposits").FindOne(ctx, bson.M{"_id": id}).Decode(&md)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Deposit{}, store.ErrNotFound
	}

	if err != nil {
		return store.Deposit{}, fmt.Errorf("could not read deposit: %w", err)
	}

	return md.deposit(), nil
}

// DepositsByState returns the deposits currently in the given state, oldest first.
func (m *Mongo) DepositsByState(ctx context.Context, state store.DepositState) ([]store.Deposit, error) {
	cur, err := m.col("deposits").Find(ctx, bson.M{"state": state},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not list deposits: %w", err)
	}
	defer cur.Close(ctx)

	var ds []store.Deposit

	for cur.Next(ctx) {
		var md mongoDeposit
		if err = cur.Decode(&md); err != nil {
			return nil, err
		}

		ds = append(ds, md.deposit())
	}

	return ds, cur.Err()
}

// SetDepositState performs a compare-and-set state transition.
func (m *Mongo) SetDepositState(ctx context.Context, id string, from, to store.DepositState) error {
	if !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := m.col("deposits").UpdateOne(ctx,
		bson.M{"_id": id, "state": from},
		bson.M{"$set": bson.M{"state": to, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("could not update deposit state: %w", err)
	}

	return m.casResult(ctx, "deposits", res, id)
}

// UpdateDepositSpread replaces the spread and transitions the state in one write.
func (m *Mongo) UpdateDepositSpread(ctx context.Context, id string, spread []store.SpreadLeg,
	from, to store.DepositState) error {
	if from != to && !from.Can(to) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := m.col("deposits").UpdateOne(ctx,
		bson.M{"_id": id, "state": from},
		bson.M{"$set": bson.M{"spread": toMongoSpread(spread), "state": to, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("could not update deposit spread: %w", err)
	}

	return m.casResult(ctx, "deposits", res, id)
}

// ConfirmDepositCollected persists the fully hashed spread, moves the deposit to collected and credits the ledger
// account with amount minus fee in one transaction.
func (m *Mongo) ConfirmDepositCollected(ctx context.Context, d store.Deposit, spread []store.SpreadLeg) error {
	return m.withTx(ctx, func(sc mgo.SessionContext) error {
		res, err := m.col("deposits").UpdateOne(sc,
			bson.M{"_id": d.ID, "state": bson.M{"$in": bson.A{store.DepositProcessing, store.DepositCollecting}}},
			bson.M{"$set": bson.M{
				"spread": toMongoSpread(spread), "state": store.DepositCollected, "updated_at": time.Now().UTC(),
			}})
		if err != nil {
			return fmt.Errorf("could not collect deposit: %w", err)
		}

		if res.MatchedCount == 0 {
			return store.ErrStateConflict
		}

		credit := d.Amount.Sub(d.Fee)

		_, err = m.col("accounts").UpdateOne(sc,
			bson.M{"member_uid": d.MemberUID, "currency": d.Currency},
			bson.M{"$inc": bson.M{"balance": dec128(credit), "locked": dec128(decimal.Zero)}},
			options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("could not credit account: %w", err)
		}

		return nil
	})
}

// AddWithdraw inserts a new withdrawal document.
func (m *Mongo) AddWithdraw(ctx context.Context, w store.Withdraw) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}

	mw := mongoWithdraw{
		ID: w.ID, MemberUID: w.MemberUID, Currency: w.Currency,
		Amount: dec128(w.Amount), Fee: dec128(w.Fee),
		RID: w.RID, TxID: w.TxID, State: w.State, CreatedAt: w.CreatedAt, UpdatedAt: now,
	}

	if _, err := m.col("withdraws").InsertOne(ctx, mw); err != nil {
		return fmt.Errorf("could not insert withdraw: %w", err)
	}

	return nil
}

// GetWithdraw returns the withdrawal or ErrNotFound.
func (m *Mongo) GetWithdraw(ctx context.Context, id string) (store.Withdraw, error) {
	var mw mongoWithdraw

	err := m.col("withdraws").FindOne(ctx, bson.M{"_id": id}).Decode(&mw)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Withdraw{}, store.ErrNotFound
	}

	if err != nil {
		return store.Withdraw{}, fmt.Errorf("could not read withdraw: %w", err)
	}

	return mw.withdraw(), nil
}

// SetWithdrawState performs a compare-and-set state transition.
func (m *Mongo) SetWithdrawState(ctx context.Context, id string, from, to store.WithdrawState) error {
	if !from.Can(to) {
		return fmt.Errorf("withdraw %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := m.col("withdraws").UpdateOne(ctx,
		bson.M{"_id": id, "state": from},
		bson.M{"$set": bson.M{"state": to, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("could not update withdraw state: %w", err)
	}

	return m.casResult(ctx, "withdraws", res, id)
}

// ConfirmWithdrawDispatch records the broadcast hash and moves processing -> confirming in one write.
func (m *Mongo) ConfirmWithdrawDispatch(ctx context.Context, id, txid string) error {
	res, err := m.col("withdraws").UpdateOne(ctx,
		bson.M{"_id": id, "state": store.WithdrawProcessing},
		bson.M{"$set": bson.M{"state": store.WithdrawConfirming, "txid": txid, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("could not confirm withdraw dispatch: %w", err)
	}

	return m.casResult(ctx, "withdraws", res, id)
}

// SucceedWithdraw moves confirming -> succeed and debits the locked funds in one transaction.
func (m *Mongo) SucceedWithdraw(ctx context.Context, id string) error {
	return m.settleWithdraw(ctx, id, store.WithdrawSucceed)
}

// FailWithdraw moves the withdrawal to failed and releases the locked funds in one transaction.
func (m *Mongo) FailWithdraw(ctx context.Context, id string) error {
	return m.settleWithdraw(ctx, id, store.WithdrawFailed)
}

func (m *Mongo) settleWithdraw(ctx context.Context, id string, to store.WithdrawState) error {
	return m.withTx(ctx, func(sc mgo.SessionContext) error {
		var mw mongoWithdraw

		err := m.col("withdraws").FindOne(sc, bson.M{"_id": id}).Decode(&mw)
		if errors.Is(err, mgo.ErrNoDocuments) {
			return store.ErrNotFound
		}

		if err != nil {
			return fmt.Errorf("could not read withdraw: %w", err)
		}

		if !mw.State.Can(to) {
			return fmt.Errorf("withdraw %s: %s -> %s: %w", id, mw.State, to, store.ErrInvalidTransition)
		}

		_, err = m.col("withdraws").UpdateOne(sc,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"state": to, "updated_at": time.Now().UTC()}})
		if err != nil {
			return fmt.Errorf("could not update withdraw state: %w", err)
		}

		sum := fromDec128(mw.Amount).Add(fromDec128(mw.Fee))
		filter := bson.M{"member_uid": mw.MemberUID, "currency": mw.Currency, "locked": bson.M{"$gte": dec128(sum)}}

		var update bson.M
		if to == store.WithdrawSucceed {
			// funds leave the exchange: burn the locked reservation
			update = bson.M{"$inc": bson.M{"locked": dec128(sum.Neg())}}
		} else {
			// broadcast never happened or failed on chain: give the reservation back
			update = bson.M{"$inc": bson.M{"balance": dec128(sum), "locked": dec128(sum.Neg())}}
		}

		res, err := m.col("accounts").UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("could not settle account: %w", err)
		}

		if res.MatchedCount == 0 {
			return store.ErrInsufficientFunds
		}

		return nil
	})
}

// AddWallet inserts a custody wallet document.
func (m *Mongo) AddWallet(ctx context.Context, w store.Wallet) error {
	mw := mongoWallet{
		ID: w.ID, Name: w.Name, Currency: w.Currency, Kind: w.Kind, Adapter: w.Adapter,
		Address: w.Address, URI: w.URI, GatewayURL: w.GatewayURL, Secret: w.Secret,
		WalletIndex: w.WalletIndex, MaxBalance: dec128(w.MaxBalance), Active: w.Active,
	}

	if _, err := m.col("wallets").InsertOne(ctx, mw); err != nil {
		return fmt.Errorf("could not insert wallet: %w", err)
	}

	return nil
}

// ActiveWallet returns the single active wallet for the currency and kind, or ErrNotFound.
func (m *Mongo) ActiveWallet(ctx context.Context, currency string, kind store.WalletKind) (store.Wallet, error) {
	var mw mongoWallet

	err := m.col("wallets").FindOne(ctx, bson.M{"currency": currency, "kind": kind, "active": true}).Decode(&mw)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Wallet{}, store.ErrNotFound
	}

	if err != nil {
		return store.Wallet{}, fmt.Errorf("could not read wallet: %w", err)
	}

	return mw.wallet(), nil
}

// AddTransaction appends a broadcast/observation record. Documents are never updated.
func (m *Mongo) AddTransaction(ctx context.Context, t store.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	mt := mongoTransaction{
		Currency: t.Currency, RefKind: t.RefKind, RefID: t.RefID, Hash: t.Hash,
		FromAddress: t.FromAddress, ToAddress: t.ToAddress,
		Amount: dec128(t.Amount), Status: t.Status, CreatedAt: t.CreatedAt,
	}

	if _, err := m.col("transactions").InsertOne(ctx, mt); err != nil {
		return fmt.Errorf("could not insert transaction: %w", err)
	}

	return nil
}

// AddBeneficiary inserts a beneficiary document.
func (m *Mongo) AddBeneficiary(ctx context.Context, b store.Beneficiary) error {
	if _, err := m.col("beneficiaries").InsertOne(ctx, b); err != nil {
		return fmt.Errorf("could not insert beneficiary: %w", err)
	}

	return nil
}

// GetBeneficiary returns the beneficiary or ErrNotFound.
func (m *Mongo) GetBeneficiary(ctx context.Context, id string) (store.Beneficiary, error) {
	var b store.Beneficiary

	err := m.col("beneficiaries").FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return b, store.ErrNotFound
	}

	if err != nil {
		return b, fmt.Errorf("could not read beneficiary: %w", err)
	}

	return b, nil
}

// BeneficiariesByState returns the beneficiaries currently in the given state.
func (m *Mongo) BeneficiariesByState(ctx context.Context,
	state store.BeneficiaryState) ([]store.Beneficiary, error) {
	cur, err := m.col("beneficiaries").Find(ctx, bson.M{"state": state})
	if err != nil {
		return nil, fmt.Errorf("could not list beneficiaries: %w", err)
	}
	defer cur.Close(ctx)

	var bs []store.Beneficiary

	for cur.Next(ctx) {
		var b store.Beneficiary
		if err = cur.Decode(&b); err != nil {
			return nil, err
		}

		bs = append(bs, b)
	}

	return bs, cur.Err()
}

// SetBeneficiaryState performs a compare-and-set state transition.
func (m *Mongo) SetBeneficiaryState(ctx context.Context, id string, from, to store.BeneficiaryState) error {
	if !from.Can(to) {
		return fmt.Errorf("beneficiary %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := m.col("beneficiaries").UpdateOne(ctx,
		bson.M{"_id": id, "state": from}, bson.M{"$set": bson.M{"state": to}})
	if err != nil {
		return fmt.Errorf("could not update beneficiary state: %w", err)
	}

	return m.casResult(ctx, "beneficiaries", res, id)
}

// AddRefund inserts a refund document.
func (m *Mongo) AddRefund(ctx context.Context, r store.Refund) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if _, err := m.col("refunds").InsertOne(ctx, r); err != nil {
		return fmt.Errorf("could not insert refund: %w", err)
	}

	return nil
}

// GetRefund returns the refund or ErrNotFound.
func (m *Mongo) GetRefund(ctx context.Context, id string) (store.Refund, error) {
	var r store.Refund

	err := m.col("refunds").FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return r, store.ErrNotFound
	}

	if err != nil {
		return r, fmt.Errorf("could not read refund: %w", err)
	}

	return r, nil
}

// SetRefundState performs a compare-and-set state transition.
func (m *Mongo) SetRefundState(ctx context.Context, id string, from, to store.RefundState) error {
	if !from.Can(to) {
		return fmt.Errorf("refund %s: %s -> %s: %w", id, from, to, store.ErrInvalidTransition)
	}

	res, err := m.col("refunds").UpdateOne(ctx,
		bson.M{"_id": id, "state": from}, bson.M{"$set": bson.M{"state": to}})
	if err != nil {
		return fmt.Errorf("could not update refund state: %w", err)
	}

	return m.casResult(ctx, "refunds", res, id)
}

// withTx runs fn inside a session transaction so all writes commit or abort together.
func (m *Mongo) withTx(ctx context.Context, fn func(mgo.SessionContext) error) error {
	session, err := m.c.StartSession()
	if err != nil {
		return fmt.Errorf("could not start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mgo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})

	return err
}

// casResult distinguishes a missing document from one no longer in the expected state after a guarded update
// matched nothing.
func (m *Mongo) casResult(ctx context.Context, colName string, res *mgo.UpdateResult, id string) error {
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := m.col(colName).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}

	if n == 0 {
		return store.ErrNotFound
	}

	return store.ErrStateConflict
}
