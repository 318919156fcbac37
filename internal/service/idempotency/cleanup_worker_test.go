package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avtodom/dms/internal/domain"
)

var _ domain.IdempotencyRepository = (*expiringKeyStore)(nil)

func TestCleanupWorker_DeleteExpired_DrainsInBatches(t *testing.T) {
	t.Parallel()

	// 5 просроченных ключей чекаутов при батче в 2 требуют трёх заходов.
	store := newExpiringKeyStore("chk-1", "chk-2", "chk-3", "chk-4", "chk-5")
	worker := NewCleanupWorker(store, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := store.deleteCalls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
	if left := store.remaining(); left != 0 {
		t.Fatalf("expected empty store, %d keys left", left)
	}
}

func TestCleanupWorker_DeleteExpired_KeepsPartialTotalOnError(t *testing.T) {
	t.Parallel()

	store := newExpiringKeyStore("chk-1", "chk-2", "chk-3")
	store.failAfter = 1

	worker := NewCleanupWorker(store, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted != 2 {
		t.Fatalf("expected first batch to be counted, got=%d", deleted)
	}
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := newExpiringKeyStore()
	worker := NewCleanupWorker(store,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := store.deleteCalls(); calls == 0 {
		t.Fatal("expected cleanup to run at least once")
	}
}

// expiringKeyStore хранит ключи, все из которых считаются просроченными.
// failAfter > 0 ломает DeleteExpired после указанного числа удачных вызовов.
type expiringKeyStore struct {
	mu        sync.Mutex
	keys      []string
	failAfter int
	callCount int
}

func newExpiringKeyStore(keys ...string) *expiringKeyStore {
	return &expiringKeyStore{keys: keys}
}

func (s *expiringKeyStore) CreateProcessing(string, string, time.Time) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *expiringKeyStore) Get(string) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *expiringKeyStore) MarkDone(string, []byte, int) error {
	panic("not implemented")
}

func (s *expiringKeyStore) MarkFailed(string, []byte, int) error {
	panic("not implemented")
}

func (s *expiringKeyStore) DeleteExpired(_ time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.failAfter > 0 && s.callCount > s.failAfter {
		return 0, errors.New("idempotency store unavailable")
	}

	n := limit
	if n > len(s.keys) {
		n = len(s.keys)
	}
	s.keys = s.keys[n:]
	return n, nil
}

func (s *expiringKeyStore) deleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *expiringKeyStore) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
