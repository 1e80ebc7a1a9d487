package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/protocol"
)

func newNotification(recipientID, txID string) protocol.Notification {
	return protocol.NewNotification(recipientID, protocol.Shipment, txID, []byte("payload"))
}

func transactionIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Notification.TransactionID
	}
	return ids
}

func TestMemoryQueue_PopAllForKeepsInsertionOrder(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), zerolog.Nop())

	q.Enqueue("apo-1", newNotification("apo-1", "11"))
	q.Enqueue("apo-2", newNotification("apo-2", "22"))
	q.Enqueue("apo-1", newNotification("apo-1", "33"))
	q.Enqueue("apo-1", newNotification("apo-1", "55"))

	got := transactionIDs(q.PopAllFor("apo-1"))
	want := []string{"11", "33", "55"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("PopAllFor() = %v, want %v", got, want)
	}

	if n := q.LenFor("apo-1"); n != 0 {
		t.Errorf("LenFor(apo-1) after pop = %d, want 0", n)
	}
	if n := q.LenFor("apo-2"); n != 1 {
		t.Errorf("LenFor(apo-2) = %d, want 1", n)
	}
	if d := q.Depth(); d != 1 {
		t.Errorf("Depth() = %d, want 1", d)
	}
}

func TestMemoryQueue_PopAllForIsIdempotent(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), zerolog.Nop())
	q.Enqueue("apo-1", newNotification("apo-1", "1"))

	if got := q.PopAllFor("apo-1"); len(got) != 1 {
		t.Fatalf("first PopAllFor() returned %d entries, want 1", len(got))
	}
	if got := q.PopAllFor("apo-1"); len(got) != 0 {
		t.Fatalf("second PopAllFor() returned %d entries, want 0", len(got))
	}
	if got := q.PopAllFor("unknown"); len(got) != 0 {
		t.Fatalf("PopAllFor(unknown) returned %d entries, want 0", len(got))
	}
}

func TestMemoryQueue_ClearFor(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), zerolog.Nop())
	q.Enqueue("apo-1", newNotification("apo-1", "1"))
	q.Enqueue("apo-1", newNotification("apo-1", "2"))
	q.Enqueue("apo-2", newNotification("apo-2", "3"))

	if n := q.ClearFor("apo-1"); n != 2 {
		t.Errorf("ClearFor(apo-1) = %d, want 2", n)
	}
	if got := q.PopAllFor("apo-1"); len(got) != 0 {
		t.Errorf("PopAllFor after ClearFor returned %d entries, want 0", len(got))
	}
	if !q.HasAny() {
		t.Error("HasAny() = false, want true (apo-2 still buffered)")
	}
	q.ClearFor("apo-2")
	if q.HasAny() {
		t.Error("HasAny() = true after clearing everything")
	}
}

func TestMemoryQueue_RequeuePrepends(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), zerolog.Nop())
	q.Enqueue("apo-1", newNotification("apo-1", "1"))
	q.Enqueue("apo-1", newNotification("apo-1", "2"))

	popped := q.PopAllFor("apo-1")
	q.Enqueue("apo-1", newNotification("apo-1", "3"))
	q.Requeue("apo-1", popped[1:])

	got := transactionIDs(q.PopAllFor("apo-1"))
	want := []string{"2", "3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("PopAllFor() after Requeue = %v, want %v", got, want)
	}
}

func TestMemoryQueue_BoundedReject(t *testing.T) {
	q := NewMemoryQueue(Config{MaxPerRecipient: 2, Overflow: OverflowReject}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := q.Enqueue("apo-1", newNotification("apo-1", fmt.Sprint(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if err := q.Enqueue("apo-1", newNotification("apo-1", "overflow")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue over cap error = %v, want ErrQueueFull", err)
	}
	if err := q.Enqueue("apo-2", newNotification("apo-2", "other")); err != nil {
		t.Fatalf("cap must apply per recipient, got %v", err)
	}
}

func TestMemoryQueue_BoundedEvictOldest(t *testing.T) {
	q := NewMemoryQueue(Config{MaxPerRecipient: 2, Overflow: OverflowEvictOldest}, zerolog.Nop())

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue("apo-1", newNotification("apo-1", id)); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	got := transactionIDs(q.PopAllFor("apo-1"))
	want := []string{"2", "3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("PopAllFor() = %v, want %v", got, want)
	}
	if d := q.Depth(); d != 0 {
		t.Errorf("Depth() = %d, want 0", d)
	}
}

func TestMemoryQueue_ConcurrentEnqueueAndPop(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), zerolog.Nop())

	const producers = 8
	const perProducer = 250

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received = make(map[string]int)
	)

	done := make(chan struct{})
	var popWG sync.WaitGroup
	popWG.Add(1)
	go func() {
		defer popWG.Done()
		collect := func() {
			for _, e := range q.PopAllFor("apo-1") {
				mu.Lock()
				received[e.Notification.TransactionID]++
				mu.Unlock()
			}
		}
		for {
			select {
			case <-done:
				collect()
				return
			default:
				collect()
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue("apo-1", newNotification("apo-1", fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	wg.Wait()
	close(done)
	popWG.Wait()

	if len(received) != producers*perProducer {
		t.Fatalf("received %d distinct notifications, want %d", len(received), producers*perProducer)
	}
	for id, n := range received {
		if n != 1 {
			t.Fatalf("notification %s popped %d times, want 1", id, n)
		}
	}
	if q.HasAny() {
		t.Error("queue should be drained")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"evict oldest", Config{MaxPerRecipient: 10, Overflow: OverflowEvictOldest}, false},
		{"empty overflow", Config{MaxPerRecipient: 10}, false},
		{"negative cap", Config{MaxPerRecipient: -1}, true},
		{"unknown policy", Config{Overflow: "drop_newest"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
