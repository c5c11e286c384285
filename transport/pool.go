package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// PacketProcessor handles one received datagram.
type PacketProcessor interface {
	ProcessPacket(ctx context.Context, packet []byte, addr *net.UDPAddr) error
}

// BufferPool recycles the packet copies handed to the worker pool.
type BufferPool struct {
	size    int
	buffers sync.Pool
}

// NewBufferPool returns a pool of buffers with capacity size.
func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.buffers.New = func() any {
		return make([]byte, 0, size)
	}
	return bp
}

// Get returns an empty buffer from the pool.
func (bp *BufferPool) Get() []byte {
	buf, ok := bp.buffers.Get().([]byte)
	if !ok {
		return make([]byte, 0, bp.size)
	}
	return buf[:0]
}

// Put returns buf to the pool. Buffers that grew past the pool size are dropped.
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) <= bp.size {
		bp.buffers.Put(buf)
	}
}

type job struct {
	packet []byte
	addr   *net.UDPAddr
}

// WorkerPool processes datagrams off the receive loop.
type WorkerPool struct {
	workers   int
	processor PacketProcessor
	buffers   *BufferPool
	jobs      chan job
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onError   func(error)
}

// NewWorkerPool creates a pool of size workers. Submitted packets are copied
// into buffers taken from buffers, or from a default pool when it is nil.
func NewWorkerPool(size int, processor PacketProcessor, buffers *BufferPool) (*WorkerPool, error) {
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if size < 1 {
		return nil, errors.New("worker pool size must be at least 1")
	}
	if buffers == nil {
		buffers = NewBufferPool(DefaultBufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:   size,
		processor: processor,
		buffers:   buffers,
		jobs:      make(chan job, size*2),
		ctx:       ctx,
		cancel:    cancel,
		onError:   func(error) {},
	}, nil
}

// Start launches the workers.
func (w *WorkerPool) Start() {
	for range w.workers {
		w.wg.Add(1)
		go w.worker()
	}
}

// Stop stops the workers and waits for them to exit. Queued jobs are dropped.
func (w *WorkerPool) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *WorkerPool) worker() {
	defer w.wg.Done()

	for {
		select {
		case j := <-w.jobs:
			if err := w.processor.ProcessPacket(w.ctx, j.packet, j.addr); err != nil {
				w.onError(err)
			}
			w.buffers.Put(j.packet)
		case <-w.ctx.Done():
			return
		}
	}
}

// Submit copies packet into a pooled buffer and queues it for processing.
// It blocks while the queue is full.
func (w *WorkerPool) Submit(ctx context.Context, packet []byte, addr *net.UDPAddr) error {
	buf := append(w.buffers.Get(), packet...)

	select {
	case w.jobs <- job{packet: buf, addr: addr}:
		return nil
	case <-ctx.Done():
		w.buffers.Put(buf)
		return ctx.Err()
	case <-w.ctx.Done():
		w.buffers.Put(buf)
		return w.ctx.Err()
	}
}
