// Package memory реализует storage.Store в памяти процесса. Транзакции сериализуются
// одним мьютексом и откатываются восстановлением снимка состояния.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

type state struct {
	ledgers       map[string]models.CreditLedger
	credits       []models.CreditTransaction
	payments      map[string]models.PaymentTransaction
	subscriptions map[string]models.Subscription
	usage         []models.UsageEvent
}

func (s *state) clone() *state {
	c := &state{
		ledgers:       make(map[string]models.CreditLedger, len(s.ledgers)),
		credits:       slices.Clone(s.credits),
		payments:      make(map[string]models.PaymentTransaction, len(s.payments)),
		subscriptions: make(map[string]models.Subscription, len(s.subscriptions)),
		usage:         slices.Clone(s.usage),
	}
	for k, v := range s.ledgers {
		c.ledgers[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	return c
}

// Store хранит данные леджера в памяти.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		data: &state{
			ledgers:       make(map[string]models.CreditLedger),
			payments:      make(map[string]models.PaymentTransaction),
			subscriptions: make(map[string]models.Subscription),
		},
		now: time.Now,
	}
}

// InTx выполняет fn в изолированной транзакции. Ошибка fn откатывает все изменения.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "storage.memory.InTx"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{store: s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// GetLedger возвращает баланс пользователя.
func (s *Store) GetLedger(_ context.Context, userID string) (*models.CreditLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.data.ledgers[userID]
	if !ok {
		return &models.CreditLedger{UserID: userID}, nil
	}
	return &l, nil
}

// ListCreditTransactions возвращает журнал пользователя от новых записей к старым.
func (s *Store) ListCreditTransactions(_ context.Context, userID string) ([]*models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.CreditTransaction
	for i := len(s.data.credits) - 1; i >= 0; i-- {
		if s.data.credits[i].UserID == userID {
			ct := s.data.credits[i]
			result = append(result, &ct)
		}
	}
	return result, nil
}

// CreatePaymentTransaction сохраняет новую платёжную транзакцию.
func (s *Store) CreatePaymentTransaction(_ context.Context, p *models.PaymentTransaction) error {
	const op = "storage.memory.CreatePaymentTransaction"
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.payments[p.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.data.payments[p.ID] = *p
	return nil
}

// GetPaymentTransaction возвращает платёж по ID.
func (s *Store) GetPaymentTransaction(_ context.Context, id string) (*models.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data.payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// ListPaymentTransactions возвращает платежи от новых к старым с необязательным фильтром по статусу.
func (s *Store) ListPaymentTransactions(_ context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.PaymentTransaction
	for _, p := range s.data.payments {
		if status != nil && p.Status != *status {
			continue
		}
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// GetSubscription возвращает подписку пользователя.
func (s *Store) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.data.subscriptions[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sub, nil
}

// CountUsage считает события использования начиная с since.
func (s *Store) CountUsage(_ context.Context, userID, action, subject string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.data.usage {
		if e.UserID == userID && e.Action == action && e.Subject == subject && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type memTx struct {
	store *Store
}

func (t *memTx) LockLedger(_ context.Context, userID string) (*models.CreditLedger, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	l, ok := t.store.data.ledgers[userID]
	if !ok {
		l = models.CreditLedger{UserID: userID, UpdatedAt: t.store.now()}
		t.store.data.ledgers[userID] = l
	}
	return &l, nil
}

func (t *memTx) UpdateBalance(_ context.Context, userID string, balance int) error {
	const op = "storage.memory.UpdateBalance"
	if balance < 0 {
		return fmt.Errorf("%s: negative balance: %w", op, storage.ErrConflict)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.data.ledgers[userID] = models.CreditLedger{UserID: userID, Balance: balance, UpdatedAt: t.store.now()}
	return nil
}

func (t *memTx) InsertCreditTransaction(_ context.Context, ct *models.CreditTransaction) error {
	const op = "storage.memory.InsertCreditTransaction"
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if ct.TransactionType == models.CreditPurchase && ct.PaymentTransactionID != nil {
		for _, existing := range t.store.data.credits {
			if existing.TransactionType == models.CreditPurchase && existing.PaymentTransactionID != nil &&
				*existing.PaymentTransactionID == *ct.PaymentTransactionID {
				return fmt.Errorf("%s: %w", op, storage.ErrConflict)
			}
		}
	}
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = t.store.now()
	}
	t.store.data.credits = append(t.store.data.credits, *ct)
	return nil
}

func (t *memTx) FindPurchaseByPayment(_ context.Context, paymentTransactionID string) (*models.CreditTransaction, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	for _, ct := range t.store.data.credits {
		if ct.TransactionType == models.CreditPurchase && ct.PaymentTransactionID != nil &&
			*ct.PaymentTransactionID == paymentTransactionID {
			return &ct, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *memTx) LockPaymentTransaction(_ context.Context, id string) (*models.PaymentTransaction, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	p, ok := t.store.data.payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) UpdatePaymentTransaction(_ context.Context, p *models.PaymentTransaction) error {
	const op = "storage.memory.UpdatePaymentTransaction"
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, ok := t.store.data.payments[p.ID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	p.UpdatedAt = t.store.now()
	t.store.data.payments[p.ID] = *p
	return nil
}

func (t *memTx) FindSubscriptionByPayment(_ context.Context, paymentTransactionID string) (*models.Subscription, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	for _, sub := range t.store.data.subscriptions {
		if sub.PaymentTransactionID == paymentTransactionID {
			return &sub, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *memTx) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if existing, ok := t.store.data.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
	}
	t.store.data.subscriptions[sub.UserID] = *sub
	return nil
}

func (t *memTx) InsertUsageEvent(_ context.Context, e *models.UsageEvent) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.store.now()
	}
	t.store.data.usage = append(t.store.data.usage, *e)
	return nil
}

func (t *memTx) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return t.store.GetSubscription(ctx, userID)
}

func (t *memTx) CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error) {
	return t.store.CountUsage(ctx, userID, action, subject, since)
}

func (t *memTx) SetUsageCharge(_ context.Context, eventID string, credits int) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for i := range t.store.data.usage {
		if t.store.data.usage[i].ID == eventID {
			t.store.data.usage[i].CreditsCharged = credits
			return nil
		}
	}
	return storage.ErrNotFound
}

func (t *memTx) Savepoint(_ context.Context, fn func(tx storage.Tx) error) error {
	t.store.mu.RLock()
	snapshot := t.store.data.clone()
	t.store.mu.RUnlock()

	if err := fn(t); err != nil {
		t.store.mu.Lock()
		t.store.data = snapshot
		t.store.mu.Unlock()
		return err
	}
	return nil
}
