package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canops/go-pcan-gateway/internal/can"
)

func TestTxQueueForwards(t *testing.T) {
	var mu sync.Mutex
	var sent []can.Frame
	done := make(chan struct{}, 1)
	q := NewTxQueue(context.Background(), 8, func(fr can.Frame) error {
		mu.Lock()
		sent = append(sent, fr)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	defer q.Close()

	if err := q.SendFrame(can.Frame{ID: 0x42, Len: 1}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not forward frame")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0].ID != 0x42 {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestTxQueueOverflow(t *testing.T) {
	block := make(chan struct{})
	q := NewTxQueue(context.Background(), 1, func(can.Frame) error {
		<-block
		return nil
	})
	defer func() { close(block); q.Close() }()

	// First frame is picked up by the worker and blocks in send, the
	// second fills the buffer. Give the worker a moment to drain.
	if err := q.SendFrame(can.Frame{ID: 1}); err != nil {
		t.Fatalf("SendFrame 1: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if err := q.SendFrame(can.Frame{ID: 2}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("buffer never accepted second frame")
		}
		time.Sleep(time.Millisecond)
	}
	if err := q.SendFrame(can.Frame{ID: 3}); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("SendFrame 3 = %v, want ErrTxOverflow", err)
	}
}

func TestTxQueueClosed(t *testing.T) {
	q := NewTxQueue(context.Background(), 1, func(can.Frame) error { return nil })
	q.Close()
	q.Close() // idempotent
	if err := q.SendFrame(can.Frame{ID: 1}); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("SendFrame after Close = %v, want ErrTxClosed", err)
	}
}

func TestTxQueueSendErrorDoesNotStopWorker(t *testing.T) {
	calls := make(chan uint32, 2)
	q := NewTxQueue(context.Background(), 4, func(fr can.Frame) error {
		calls <- fr.ID
		if fr.ID == 1 {
			return errors.New("bus off")
		}
		return nil
	})
	defer q.Close()

	if err := q.SendFrame(can.Frame{ID: 1}); err != nil {
		t.Fatalf("SendFrame 1: %v", err)
	}
	if err := q.SendFrame(can.Frame{ID: 2}); err != nil {
		t.Fatalf("SendFrame 2: %v", err)
	}
	for want := uint32(1); want <= 2; want++ {
		select {
		case id := <-calls:
			if id != want {
				t.Fatalf("call order: got %d, want %d", id, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("worker stalled before frame %d", want)
		}
	}
}
