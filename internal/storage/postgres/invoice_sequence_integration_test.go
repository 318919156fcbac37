package postgres

import (
	"context"
	"sync"
	"testing"
)

func TestInvoiceSequence_PostgresMonotonic(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seq := NewInvoiceSequence(store)

	ctx := context.Background()

	first, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("first next: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first invoice number 1, got %d", first)
	}

	second, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("second next: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected second invoice number 2, got %d", second)
	}
}

func TestInvoiceSequence_PostgresConcurrentUnique(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seq := NewInvoiceSequence(store)

	ctx := context.Background()

	const workers = 20
	numbers := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			numbers[idx], errs[idx] = seq.Next(ctx)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, workers)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("next %d: %v", i, errs[i])
		}
		if numbers[i] < 1 || numbers[i] > workers {
			t.Fatalf("invoice number out of range: %d", numbers[i])
		}
		if seen[numbers[i]] {
			t.Fatalf("duplicate invoice number: %d", numbers[i])
		}
		seen[numbers[i]] = true
	}
}
