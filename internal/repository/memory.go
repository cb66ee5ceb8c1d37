package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
)

// FaultFunc is consulted before each mutating step of a MemoryStore
// transaction. Returning an error aborts the transaction at that point.
// op is one of "adjust", "insert" or "commit".
type FaultFunc func(op string, ref models.AccountRef) error

// MemoryStore is an in-process Store. Each account has its own lock, taken in
// the global order, and a transaction's writes become visible only when it
// commits.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]*models.User
	emails   map[string]int64
	wallets  map[int64]*models.Wallet
	byUser   map[int64]int64
	cards    map[int64]*models.Card
	records  []models.TransactionRecord
	rates    map[string]models.ExchangeRate
	idemKeys map[idemKey]int64

	lockMu sync.Mutex
	locks  map[models.AccountRef]chan struct{}

	seq   atomic.Int64
	fault atomic.Pointer[FaultFunc]
}

type idemKey struct {
	userID int64
	key    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[int64]*models.User{},
		emails:   map[string]int64{},
		wallets:  map[int64]*models.Wallet{},
		byUser:   map[int64]int64{},
		cards:    map[int64]*models.Card{},
		rates:    map[string]models.ExchangeRate{},
		idemKeys: map[idemKey]int64{},
		locks:    map[models.AccountRef]chan struct{}{},
	}
}

// SetFault installs f for subsequent transactions. Pass nil to clear it.
func (s *MemoryStore) SetFault(f FaultFunc) {
	if f == nil {
		s.fault.Store(nil)
		return
	}
	s.fault.Store(&f)
}

func (s *MemoryStore) checkFault(op string, ref models.AccountRef) error {
	if f := s.fault.Load(); f != nil {
		if err := (*f)(op, ref); err != nil {
			return models.Storage("store."+op, err)
		}
	}
	return nil
}

func (s *MemoryStore) nextID() int64 {
	return s.seq.Add(1)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) UpsertRates(ctx context.Context, rates []models.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rates {
		r.UpdatedAt = time.Now()
		s.rates[r.Code] = r
	}
	return nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx := &memoryTx{
		store:  s,
		held:   map[models.AccountRef]bool{},
		deltas: map[models.AccountRef]decimal.Decimal{},
	}
	defer tx.release()

	if err := ctx.Err(); err != nil {
		return models.Storage("store.Begin", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) lockFor(ref models.AccountRef) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[ref]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[ref] = l
	}
	return l
}

// memoryTx buffers every write until commit.
type memoryTx struct {
	store   *MemoryStore
	held    map[models.AccountRef]bool
	order   []models.AccountRef
	deltas  map[models.AccountRef]decimal.Decimal
	users   []*models.User
	wallets []*models.Wallet
	cards   []*models.Card
	records []models.TransactionRecord
}

func (t *memoryTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.store.lockFor(t.order[i])
	}
	t.order = nil
	t.held = map[models.AccountRef]bool{}
}

func (t *memoryTx) LockAccounts(ctx context.Context, refs ...models.AccountRef) (map[models.AccountRef]*models.Account, error) {
	out := make(map[models.AccountRef]*models.Account, len(refs))
	for _, ref := range SortRefs(refs) {
		acc, err := t.account(ref)
		if err != nil {
			return nil, err
		}
		if !t.held[ref] {
			select {
			case t.store.lockFor(ref) <- struct{}{}:
			case <-ctx.Done():
				return nil, models.Storage("store.LockAccounts", ctx.Err())
			}
			t.held[ref] = true
			t.order = append(t.order, ref)
		}
		// Re-read now that the lock is held.
		if acc, err = t.account(ref); err != nil {
			return nil, err
		}
		out[ref] = acc
	}
	return out, nil
}

// account is the committed state of ref plus this transaction's pending delta.
func (t *memoryTx) account(ref models.AccountRef) (*models.Account, error) {
	s := t.store
	s.mu.RLock()
	var acc *models.Account
	switch ref.Kind {
	case models.KindWallet:
		if w, ok := s.wallets[ref.ID]; ok {
			acc = &models.Account{Ref: ref, UserID: w.UserID, Balance: w.Balance, Label: s.users[w.UserID].Email}
		}
	case models.KindCard:
		if c, ok := s.cards[ref.ID]; ok {
			acc = &models.Account{Ref: ref, UserID: c.UserID, Balance: c.Balance, Label: string(c.Network)}
		}
	}
	s.mu.RUnlock()

	if acc == nil {
		return nil, models.NotFound("store.LockAccounts", ref.String())
	}
	acc.Balance = acc.Balance.Add(t.deltas[ref])
	return acc, nil
}

func (t *memoryTx) AdjustBalance(ctx context.Context, ref models.AccountRef, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.store.checkFault("adjust", ref); err != nil {
		return decimal.Zero, err
	}
	if !t.held[ref] {
		if _, err := t.LockAccounts(ctx, ref); err != nil {
			return decimal.Zero, err
		}
	}
	acc, err := t.account(ref)
	if err != nil {
		return decimal.Zero, err
	}
	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, models.NewError(models.KindInsufficientFunds, "store.AdjustBalance",
			fmt.Sprintf("insufficient funds on %s", ref))
	}
	t.deltas[ref] = t.deltas[ref].Add(delta)
	return next, nil
}

func (t *memoryTx) InsertRecord(ctx context.Context, rec *models.TransactionRecord) error {
	var ref models.AccountRef
	if rec.Destination != nil {
		ref = *rec.Destination
	}
	if err := t.store.checkFault("insert", ref); err != nil {
		return err
	}
	rec.ID = t.store.nextID()
	rec.CreatedAt = time.Now()
	t.records = append(t.records, *rec)
	return nil
}

func (t *memoryTx) FindRecordByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.TransactionRecord, error) {
	for i := range t.records {
		if t.records[i].UserID == userID && t.records[i].IdempotencyKey == key {
			rec := t.records[i]
			return &rec, nil
		}
	}
	s := t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idemKeys[idemKey{userID, key}]
	if !ok {
		return nil, nil
	}
	rec, err := s.recordLocked(id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *memoryTx) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	email = normalizeEmail(email)
	if _, err := t.GetUserByEmail(ctx, email); err == nil {
		return nil, models.NewError(models.KindDuplicateEmail, "store.CreateUser", "email already registered")
	}
	u := &models.User{ID: t.store.nextID(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	t.users = append(t.users, u)
	return u, nil
}

func (t *memoryTx) CreateWallet(ctx context.Context, userID int64, balance decimal.Decimal) (*models.Wallet, error) {
	w := &models.Wallet{ID: t.store.nextID(), UserID: userID, Balance: balance, UpdatedAt: time.Now()}
	for _, u := range t.users {
		if u.ID == userID {
			w.Email = u.Email
		}
	}
	t.wallets = append(t.wallets, w)
	return w, nil
}

func (t *memoryTx) CreateCard(ctx context.Context, card *models.Card) error {
	card.ID = t.store.nextID()
	card.CreatedAt = time.Now()
	c := *card
	t.cards = append(t.cards, &c)
	return nil
}

// commit applies every buffered write under the store lock, so readers see
// either none or all of them.
func (t *memoryTx) commit() error {
	if err := t.store.checkFault("commit", models.AccountRef{}); err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range t.users {
		if _, dup := s.emails[u.Email]; dup {
			return models.NewError(models.KindDuplicateEmail, "store.Commit", "email already registered")
		}
	}
	for _, rec := range t.records {
		if rec.IdempotencyKey == "" {
			continue
		}
		if _, dup := s.idemKeys[idemKey{rec.UserID, rec.IdempotencyKey}]; dup {
			return models.Storage("store.Commit", fmt.Errorf("idempotency key %q already used", rec.IdempotencyKey))
		}
	}

	for _, u := range t.users {
		s.users[u.ID] = u
		s.emails[u.Email] = u.ID
	}
	for _, w := range t.wallets {
		s.wallets[w.ID] = w
		s.byUser[w.UserID] = w.ID
	}
	for _, c := range t.cards {
		s.cards[c.ID] = c
	}
	now := time.Now()
	for ref, d := range t.deltas {
		switch ref.Kind {
		case models.KindWallet:
			w := s.wallets[ref.ID]
			w.Balance = w.Balance.Add(d)
			w.UpdatedAt = now
		case models.KindCard:
			c := s.cards[ref.ID]
			c.Balance = c.Balance.Add(d)
		}
	}
	for _, rec := range t.records {
		s.records = append(s.records, rec)
		if rec.IdempotencyKey != "" {
			s.idemKeys[idemKey{rec.UserID, rec.IdempotencyKey}] = rec.ID
		}
	}
	return nil
}

// Reads inside a transaction see the transaction's own creations and deltas.

func (t *memoryTx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range t.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return t.store.GetUser(ctx, id)
}

func (t *memoryTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	for _, u := range t.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return t.store.GetUserByEmail(ctx, email)
}

func (t *memoryTx) GetWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	for _, w := range t.wallets {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	w, err := t.store.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Balance = w.Balance.Add(t.deltas[w.Ref()])
	return w, nil
}

func (t *memoryTx) GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	for _, w := range t.wallets {
		if w.UserID == userID {
			cp := *w
			return &cp, nil
		}
	}
	w, err := t.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.Balance = w.Balance.Add(t.deltas[w.Ref()])
	return w, nil
}

func (t *memoryTx) GetWalletByEmail(ctx context.Context, email string) (*models.Wallet, error) {
	u, err := t.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, models.NotFound("store.GetWallet", "wallet")
	}
	return t.GetWalletByUser(ctx, u.ID)
}

func (t *memoryTx) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	for _, c := range t.cards {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	c, err := t.store.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Balance = c.Balance.Add(t.deltas[c.Ref()])
	return c, nil
}

func (t *memoryTx) ListCards(ctx context.Context, userID int64) ([]models.Card, error) {
	cards, err := t.store.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range cards {
		cards[i].Balance = cards[i].Balance.Add(t.deltas[cards[i].Ref()])
	}
	for _, c := range t.cards {
		if c.UserID == userID {
			cards = append(cards, *c)
		}
	}
	return cards, nil
}

func (t *memoryTx) GetRecord(ctx context.Context, id int64) (*models.TransactionRecord, error) {
	for i := range t.records {
		if t.records[i].ID == id {
			rec := t.records[i]
			return &rec, nil
		}
	}
	return t.store.GetRecord(ctx, id)
}

func (t *memoryTx) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error) {
	return t.store.ListTransactions(ctx, userID, limit)
}

func (t *memoryTx) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	return t.store.ListRates(ctx)
}

// Committed reads.

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.NotFound("store.GetUser", "user")
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.emails[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, models.NotFound("store.GetUser", "user")
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryStore) GetWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, models.NotFound("store.GetWallet", "wallet")
	}
	cp := *w
	cp.Email = s.users[w.UserID].Email
	return &cp, nil
}

func (s *MemoryStore) GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return nil, models.NotFound("store.GetWallet", "wallet")
	}
	w := *s.wallets[id]
	w.Email = s.users[userID].Email
	return &w, nil
}

func (s *MemoryStore) GetWalletByEmail(ctx context.Context, email string) (*models.Wallet, error) {
	s.mu.RLock()
	uid, ok := s.emails[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, models.NotFound("store.GetWallet", "wallet")
	}
	return s.GetWalletByUser(ctx, uid)
}

func (s *MemoryStore) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, models.NotFound("store.GetCard", fmt.Sprintf("card %d", id))
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCards(ctx context.Context, userID int64) ([]models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := []models.Card{}
	for _, c := range s.cards {
		if c.UserID == userID {
			cards = append(cards, *c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards, nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id int64) (*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked(id)
}

func (s *MemoryStore) recordLocked(id int64) (*models.TransactionRecord, error) {
	for i := range s.records {
		if s.records[i].ID == id {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, models.NotFound("store.GetRecord", fmt.Sprintf("transaction %d", id))
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	views := []models.TransactionView{}
	for i := len(s.records) - 1; i >= 0 && len(views) < limit; i-- {
		rec := s.records[i]
		if rec.UserID != userID && !s.ownsWallet(userID, rec.Destination) {
			continue
		}
		v := models.TransactionView{
			ID:          rec.ID,
			Amount:      rec.Amount.StringFixed(4),
			Currency:    rec.Currency,
			Kind:        rec.Kind,
			Description: rec.Description,
			CreatedAt:   rec.CreatedAt,
			Incoming:    isIncoming(userID, rec.UserID, rec.Kind),
		}
		v.FromEmail, v.FromCardType = s.describe(rec.Source)
		v.ToEmail, v.ToCardType = s.describe(rec.Destination)
		views = append(views, v)
	}
	return views, nil
}

func (s *MemoryStore) ownsWallet(userID int64, ref *models.AccountRef) bool {
	if ref == nil || ref.Kind != models.KindWallet {
		return false
	}
	w, ok := s.wallets[ref.ID]
	return ok && w.UserID == userID
}

func (s *MemoryStore) describe(ref *models.AccountRef) (email, cardType *string) {
	if ref == nil {
		return nil, nil
	}
	switch ref.Kind {
	case models.KindWallet:
		if w, ok := s.wallets[ref.ID]; ok {
			e := s.users[w.UserID].Email
			return &e, nil
		}
	case models.KindCard:
		if c, ok := s.cards[ref.ID]; ok {
			n := string(c.Network)
			return nil, &n
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExchangeRate, 0, len(s.rates))
	for _, r := range s.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Balances returns every committed balance keyed by account. Used to check
// conservation and for the dev-mode dump.
func (s *MemoryStore) Balances() map[models.AccountRef]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.AccountRef]decimal.Decimal, len(s.wallets)+len(s.cards))
	for id, w := range s.wallets {
		out[models.WalletRef(id)] = w.Balance
	}
	for id, c := range s.cards {
		out[models.CardRef(id)] = c.Balance
	}
	return out
}

// RecordCount is the number of committed transaction records.
func (s *MemoryStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
