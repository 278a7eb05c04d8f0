package core

import (
	"context"
	"time"
)

type saveItem struct {
	key            string
	enqueuedUnixNS int64
	resp           chan SaveResult
}

// SaveResult is returned to each Save() caller once its key has been written.
// Timestamps allow reconstructing queueing and write time.
type SaveResult struct {
	Key       string
	BatchSize int
	// Writes is the number of store writes the flush performed (one per distinct key).
	Writes int
	Err    error

	// Timing (Unix ns)
	EnqueueUnixNS    int64
	FlushStartUnixNS int64
	WriteStartUnixNS int64
	WriteEndUnixNS   int64
}

// SaveBatcher coalesces save requests so that concurrent callers asking to
// persist the same key produce a single store write. The snapshot is taken when
// the batch flushes, so every caller's metrics are included in the write.
type SaveBatcher struct {
	save      func(ctx context.Context, key string) error
	batchSize int
	maxWait   time.Duration

	in   chan *saveItem
	stop chan struct{}
	done chan struct{}
}

func NewSaveBatcher(r *Registry, batchSize int, maxWait time.Duration) *SaveBatcher {
	return newSaveBatcher(r.SaveToStore, batchSize, maxWait)
}

func newSaveBatcher(save func(ctx context.Context, key string) error, batchSize int, maxWait time.Duration) *SaveBatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxWait <= 0 {
		maxWait = 25 * time.Millisecond
	}
	b := &SaveBatcher{
		save:      save,
		batchSize: batchSize,
		maxWait:   maxWait,
		in:        make(chan *saveItem, batchSize*4),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

// Close flushes whatever is queued and stops the loop.
func (b *SaveBatcher) Close() {
	select {
	case <-b.stop:
		// already closed
	default:
		close(b.stop)
		<-b.done
	}
}

// Save enqueues key and blocks until the batch containing it is written.
func (b *SaveBatcher) Save(ctx context.Context, key string) (SaveResult, error) {
	it := &saveItem{
		key:            key,
		enqueuedUnixNS: time.Now().UnixNano(),
		resp:           make(chan SaveResult, 1),
	}
	select {
	case b.in <- it:
	case <-b.stop:
		return SaveResult{}, ErrBatcherStopped
	case <-ctx.Done():
		return SaveResult{}, ctx.Err()
	}

	var res SaveResult
	select {
	case res = <-it.resp:
	case <-ctx.Done():
		return SaveResult{}, ctx.Err()
	case <-b.done:
		// The loop may have answered right before exiting.
		select {
		case res = <-it.resp:
		default:
			return SaveResult{}, ErrBatcherStopped
		}
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (b *SaveBatcher) loop() {
	defer close(b.done)

	var batch []*saveItem
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func(items []*saveItem) {
		if len(items) == 0 {
			return
		}
		flushStartNS := time.Now().UnixNano()

		var keys []string
		byKey := make(map[string][]*saveItem)
		for _, it := range items {
			if _, ok := byKey[it.key]; !ok {
				keys = append(keys, it.key)
			}
			byKey[it.key] = append(byKey[it.key], it)
		}

		for _, key := range keys {
			writeStart := time.Now()
			err := b.save(context.Background(), key)
			writeEnd := time.Now()

			for _, it := range byKey[key] {
				it.resp <- SaveResult{
					Key:       key,
					BatchSize: len(items),
					Writes:    len(keys),
					Err:       err,

					EnqueueUnixNS:    it.enqueuedUnixNS,
					FlushStartUnixNS: flushStartNS,
					WriteStartUnixNS: writeStart.UnixNano(),
					WriteEndUnixNS:   writeEnd.UnixNano(),
				}
			}
		}
	}

	for {
		select {
		case it := <-b.in:
			batch = append(batch, it)
			if len(batch) == 1 {
				timer = time.NewTimer(b.maxWait)
				timerC = timer.C
			}
			if len(batch) >= b.batchSize {
				if timer != nil {
					_ = timer.Stop()
				}
				flush(batch)
				batch = nil
				timer = nil
				timerC = nil
			}

		case <-timerC:
			flush(batch)
			batch = nil
			timer = nil
			timerC = nil

		case <-b.stop:
			if timer != nil {
				_ = timer.Stop()
			}
			// Pick up requests that were queued before stop was observed.
		drain:
			for {
				select {
				case it := <-b.in:
					batch = append(batch, it)
				default:
					break drain
				}
			}
			flush(batch)
			return
		}
	}
}
