// Package memstore is an in-memory repository.Store with per-row pessimistic
// locks, staged writes and all-or-nothing commit. It backs the engines in tests
// and in STORE_DRIVER=memory deployments.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/repository"
	"github.com/segyhp/funds-engine/pkg/utils"
)

const defaultLockTimeout = 5 * time.Second

// Store keeps committed state in maps guarded by mu. Row locks are one-slot
// channels so that waits can time out like lock_timeout does in Postgres.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]domain.Account
	loans        map[uuid.UUID]domain.Loan
	payments     map[uuid.UUID]domain.ScheduledPayment
	transactions []domain.Transaction
	scores       map[uuid.UUID]int
	rowLocks     map[string]chan struct{}
	lockTimeout  time.Duration
	commitErr    error
}

// New creates an empty store. A non-positive lockTimeout uses 5s.
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		accounts:    make(map[string]domain.Account),
		loans:       make(map[uuid.UUID]domain.Loan),
		payments:    make(map[uuid.UUID]domain.ScheduledPayment),
		scores:      make(map[uuid.UUID]int),
		rowLocks:    make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// WithinTx runs fn with staged writes that are applied only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	t := newTx(s, false)
	defer t.releaseLocks()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Accounts() repository.AccountRepository { return newTx(s, true).Accounts() }
func (s *Store) Transactions() repository.TransactionRepository {
	return newTx(s, true).Transactions()
}
func (s *Store) Loans() repository.LoanRepository { return newTx(s, true).Loans() }
func (s *Store) ScheduledPayments() repository.ScheduledPaymentRepository {
	return newTx(s, true).ScheduledPayments()
}
func (s *Store) CreditScores() repository.CreditScoreRepository { return newTx(s, true).CreditScores() }

// FailNextCommit makes the next WithinTx commit return err without applying anything.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.AccountNumber] = a
}

// PutLoan inserts or replaces a loan.
func (s *Store) PutLoan(l domain.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = l
}

// PutScheduledPayment inserts or replaces a scheduled payment.
func (s *Store) PutScheduledPayment(p domain.ScheduledPayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

// PutBorrower registers a borrower with a starting credit score.
func (s *Store) PutBorrower(id uuid.UUID, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[id] = score
}

// Account returns a committed copy of the account.
func (s *Store) Account(accountNumber string) (domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountNumber]
	return a, ok
}

// Loan returns a committed copy of the loan.
func (s *Store) Loan(id uuid.UUID) (domain.Loan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	return l, ok
}

// ScheduledPayment returns a committed copy of the payment.
func (s *Store) ScheduledPayment(id uuid.UUID) (domain.ScheduledPayment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

// CreditScore returns the committed score of a borrower.
func (s *Store) CreditScore(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[id]
}

// AllTransactions returns every committed ledger entry in insert order.
func (s *Store) AllTransactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

func (s *Store) rowLock(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[key] = l
	}
	return l
}

type tx struct {
	s    *Store
	auto bool // autocommit: no locks, writes go straight to the store

	held         map[string]chan struct{}
	accounts     map[string]domain.Account
	loans        map[uuid.UUID]domain.Loan
	payments     map[uuid.UUID]domain.ScheduledPayment
	transactions []domain.Transaction
	scoreDeltas  map[uuid.UUID][]int
}

func newTx(s *Store, auto bool) *tx {
	return &tx{
		s:           s,
		auto:        auto,
		held:        make(map[string]chan struct{}),
		accounts:    make(map[string]domain.Account),
		loans:       make(map[uuid.UUID]domain.Loan),
		payments:    make(map[uuid.UUID]domain.ScheduledPayment),
		scoreDeltas: make(map[uuid.UUID][]int),
	}
}

func (t *tx) Accounts() repository.AccountRepository { return accountRepo{t} }
func (t *tx) Transactions() repository.TransactionRepository { return transactionRepo{t} }
func (t *tx) Loans() repository.LoanRepository { return loanRepo{t} }
func (t *tx) ScheduledPayments() repository.ScheduledPaymentRepository { return paymentRepo{t} }
func (t *tx) CreditScores() repository.CreditScoreRepository { return scoreRepo{t} }

func (t *tx) lock(ctx context.Context, key string) error {
	if t.auto {
		return nil
	}
	if _, ok := t.held[key]; ok {
		return nil
	}

	l := t.s.rowLock(key)
	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		t.held[key] = l
		return nil
	case <-timer.C:
		return repository.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) releaseLocks() {
	for key, l := range t.held {
		<-l
		delete(t.held, key)
	}
}

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.s.commitErr; err != nil {
		t.s.commitErr = nil
		return err
	}

	for k, a := range t.accounts {
		t.s.accounts[k] = a
	}
	for k, l := range t.loans {
		t.s.loans[k] = l
	}
	for k, p := range t.payments {
		t.s.payments[k] = p
	}
	t.s.transactions = append(t.s.transactions, t.transactions...)
	for id, deltas := range t.scoreDeltas {
		score := t.s.scores[id]
		for _, d := range deltas {
			score = utils.ClampCreditScore(score+d, domain.MinCreditScore, domain.MaxCreditScore)
		}
		t.s.scores[id] = score
	}
	return nil
}

type accountRepo struct{ t *tx }

func (r accountRepo) LockForUpdate(ctx context.Context, accountNumber string) (*domain.Account, error) {
	if err := r.t.lock(ctx, "account:"+accountNumber); err != nil {
		return nil, err
	}
	return r.FindByAccountNumber(ctx, accountNumber)
}

func (r accountRepo) FindByAccountNumber(_ context.Context, accountNumber string) (*domain.Account, error) {
	if a, ok := r.t.accounts[accountNumber]; ok {
		return &a, nil
	}
	a, ok := r.t.s.Account(accountNumber)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r accountRepo) Save(_ context.Context, account *domain.Account) error {
	if _, ok := r.t.s.Account(account.AccountNumber); !ok {
		return repository.ErrNotFound
	}
	account.UpdatedAt = time.Now()
	if r.t.auto {
		r.t.s.PutAccount(*account)
		return nil
	}
	r.t.accounts[account.AccountNumber] = *account
	return nil
}

type transactionRepo struct{ t *tx }

func (r transactionRepo) Create(_ context.Context, txn *domain.Transaction) error {
	if r.t.auto {
		r.t.s.mu.Lock()
		r.t.s.transactions = append(r.t.s.transactions, *txn)
		r.t.s.mu.Unlock()
		return nil
	}
	r.t.transactions = append(r.t.transactions, *txn)
	return nil
}

func (r transactionRepo) ListByAccount(_ context.Context, accountNumber string) ([]*domain.Transaction, error) {
	all := append(r.t.s.AllTransactions(), r.t.transactions...)

	var out []*domain.Transaction
	for i := range all {
		txn := all[i]
		if (txn.SourceAccount != nil && *txn.SourceAccount == accountNumber) ||
			(txn.DestinationAccount != nil && *txn.DestinationAccount == accountNumber) {
			out = append(out, &txn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type loanRepo struct{ t *tx }

func (r loanRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Loan, error) {
	if l, ok := r.t.loans[id]; ok {
		return &l, nil
	}
	l, ok := r.t.s.Loan(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r loanRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	if err := r.t.lock(ctx, "loan:"+id.String()); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r loanRepo) ListDue(_ context.Context, asOf time.Time) ([]*domain.Loan, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.Loan
	for _, l := range r.t.s.loans {
		l := l
		if l.Status == domain.LoanStatusActive && l.NextDueDate != nil && utils.DaysBetween(*l.NextDueDate, asOf) >= 0 {
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDueDate.Equal(*out[j].NextDueDate) {
			return out[i].NextDueDate.Before(*out[j].NextDueDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r loanRepo) Save(_ context.Context, loan *domain.Loan) error {
	if _, ok := r.t.s.Loan(loan.ID); !ok {
		return repository.ErrNotFound
	}
	loan.UpdatedAt = time.Now()
	if r.t.auto {
		r.t.s.PutLoan(*loan)
		return nil
	}
	r.t.loans[loan.ID] = *loan
	return nil
}

type paymentRepo struct{ t *tx }

func (r paymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledPayment, error) {
	if p, ok := r.t.payments[id]; ok {
		return &p, nil
	}
	p, ok := r.t.s.ScheduledPayment(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r paymentRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduledPayment, error) {
	if err := r.t.lock(ctx, "scheduled_payment:"+id.String()); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r paymentRepo) ListDue(_ context.Context, asOf time.Time) ([]*domain.ScheduledPayment, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.ScheduledPayment
	for _, p := range r.t.s.payments {
		p := p
		if p.Status == domain.ScheduledPaymentActive && p.NextExecutionDate != nil && utils.DaysBetween(*p.NextExecutionDate, asOf) >= 0 {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextExecutionDate.Equal(*out[j].NextExecutionDate) {
			return out[i].NextExecutionDate.Before(*out[j].NextExecutionDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r paymentRepo) Save(_ context.Context, payment *domain.ScheduledPayment) error {
	if _, ok := r.t.s.ScheduledPayment(payment.ID); !ok {
		return repository.ErrNotFound
	}
	payment.UpdatedAt = time.Now()
	if r.t.auto {
		r.t.s.PutScheduledPayment(*payment)
		return nil
	}
	r.t.payments[payment.ID] = *payment
	return nil
}

type scoreRepo struct{ t *tx }

func (r scoreRepo) Get(_ context.Context, borrowerID uuid.UUID) (int, error) {
	r.t.s.mu.Lock()
	score, ok := r.t.s.scores[borrowerID]
	r.t.s.mu.Unlock()
	if !ok {
		return 0, repository.ErrNotFound
	}
	for _, d := range r.t.scoreDeltas[borrowerID] {
		score = utils.ClampCreditScore(score+d, domain.MinCreditScore, domain.MaxCreditScore)
	}
	return score, nil
}

func (r scoreRepo) Adjust(ctx context.Context, borrowerID uuid.UUID, delta int) (int, error) {
	if _, err := r.Get(ctx, borrowerID); err != nil {
		return 0, err
	}
	if r.t.auto {
		r.t.s.mu.Lock()
		defer r.t.s.mu.Unlock()
		score := utils.ClampCreditScore(r.t.s.scores[borrowerID]+delta, domain.MinCreditScore, domain.MaxCreditScore)
		r.t.s.scores[borrowerID] = score
		return score, nil
	}
	r.t.scoreDeltas[borrowerID] = append(r.t.scoreDeltas[borrowerID], delta)
	return r.Get(ctx, borrowerID)
}
