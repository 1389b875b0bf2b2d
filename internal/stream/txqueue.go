package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
)

// ErrTxOverflow is returned when a frame is dropped because the TX
// buffer is full.
var ErrTxOverflow = errors.New("stream tx overflow")

// ErrTxClosed is returned for sends after Close.
var ErrTxClosed = errors.New("stream tx closed")

// TxQueue funnels client-originated frames to the bus through a single
// goroutine, so slow or wedged device writes never block the TCP
// readers. Enqueue is non-blocking: a full buffer drops the frame with
// ErrTxOverflow.
type TxQueue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	closed atomic.Bool
}

// NewTxQueue starts the worker. send is the bus write, typically
// Session.WriteFrame.
func NewTxQueue(parent context.Context, buf int, send func(can.Frame) error) *TxQueue {
	ctx, cancel := context.WithCancel(parent)
	q := &TxQueue{
		ch:     make(chan can.Frame, buf),
		cancel: cancel,
		send:   send,
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case fr, ok := <-q.ch:
				if !ok {
					return
				}
				if err := q.send(fr); err != nil {
					metrics.IncDeviceError(metrics.OpStreamWrite)
					logging.L().Error("stream_tx_error", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return q
}

// SendFrame queues a frame or returns ErrTxOverflow/ErrTxClosed.
func (q *TxQueue) SendFrame(fr can.Frame) error {
	if q.closed.Load() {
		return ErrTxClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrTxClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		metrics.IncDeviceError(metrics.OpStreamTxFull)
		return ErrTxOverflow
	}
}

// Close stops the worker and waits for it to exit.
func (q *TxQueue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
