package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/google/uuid"
)

var (
	// ErrLocked is returned by Acquire when another run holds a fresh lock.
	ErrLocked = errors.New("run lock is held")
	// ErrLockLost is returned by Refresh once another run has broken the lock.
	ErrLockLost = errors.New("run lock was lost")
)

// Locker is an advisory lock held as a single object. Creating the object
// with a does-not-exist precondition is the acquire; a lock older than TTL is
// treated as abandoned and broken.
type Locker struct {
	Store  ObjectStore
	Bucket string
	Object string
	TTL    time.Duration

	now func() time.Time
}

// Lock is a held lock. Refresh it more often than the TTL while the run is
// going, and release it when the run ends.
type Lock struct {
	locker *Locker
	Owner  string

	mu         sync.Mutex
	generation int64
	body       lockBody
}

type lockBody struct {
	Owner       string    `json:"owner"`
	Host        string    `json:"host"`
	AcquiredAt  time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

// NewLocker creates a lock on bucket/object.
func NewLocker(store ObjectStore, bucket, object string, ttl time.Duration) *Locker {
	return &Locker{Store: store, Bucket: bucket, Object: object, TTL: ttl, now: time.Now}
}

func (l *Locker) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

// Acquire takes the lock or returns ErrLocked.
func (l *Locker) Acquire(ctx context.Context) (*Lock, error) {
	log := logger.FromContext(ctx).With().Str("lock", URI(l.Bucket, l.Object)).Logger()

	host, _ := os.Hostname()
	body := lockBody{Owner: uuid.NewString(), Host: host, AcquiredAt: l.clock().UTC()}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("Acquire: marshal lock body: %w", err)
	}

	// At most two tries: the second follows breaking a stale lock.
	for attempt := 0; attempt < 2; attempt++ {
		attrs, err := l.Store.Put(ctx, l.Bucket, l.Object, data, "application/json", true)
		if err == nil {
			log.Info().Str("owner", body.Owner).Msg("Acquired run lock")
			return &Lock{locker: l, generation: attrs.Generation, Owner: body.Owner, body: body}, nil
		}
		if !errors.Is(err, ErrPreconditionFailed) {
			return nil, fmt.Errorf("Acquire: %w", err)
		}

		existing, err := l.Store.Stat(ctx, l.Bucket, l.Object)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("Acquire: %w", err)
		}

		age := l.clock().Sub(existing.Created)
		if l.TTL <= 0 || age < l.TTL {
			return nil, fmt.Errorf("Acquire: %w (held for %s)", ErrLocked, age.Round(time.Second))
		}

		log.Warn().Dur("age", age).Msg("Breaking stale run lock")
		if err := l.Store.Delete(ctx, l.Bucket, l.Object, existing.Generation); err != nil &&
			!errors.Is(err, ErrNotExist) && !errors.Is(err, ErrPreconditionFailed) {
			return nil, fmt.Errorf("Acquire: breaking stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("Acquire: %w", ErrLocked)
}

// Release deletes the lock object if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	log := logger.FromContext(ctx).With().Str("owner", lk.Owner).Logger()
	lk.mu.Lock()
	generation := lk.generation
	lk.mu.Unlock()
	err := lk.locker.Store.Delete(ctx, lk.locker.Bucket, lk.locker.Object, generation)
	switch {
	case err == nil:
		log.Info().Msg("Released run lock")
	case errors.Is(err, ErrNotExist), errors.Is(err, ErrPreconditionFailed):
		log.Warn().Msg("Run lock was broken by another run before release")
	default:
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

// Refresh rewrites the lock object so its age restarts from now. It fails
// with ErrLockLost when the object is no longer the generation this lock wrote.
func (lk *Lock) Refresh(ctx context.Context) error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	body := lk.body
	body.RefreshedAt = lk.locker.clock().UTC()
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("Refresh: marshal lock body: %w", err)
	}

	attrs, err := lk.locker.Store.Replace(ctx, lk.locker.Bucket, lk.locker.Object, data, "application/json", lk.generation)
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrNotExist) {
			return fmt.Errorf("Refresh: %w", ErrLockLost)
		}
		return fmt.Errorf("Refresh: %w", err)
	}
	lk.generation = attrs.Generation
	lk.body = body
	return nil
}

// KeepAlive refreshes the lock every interval until the returned stop
// function is called or ctx ends. stop waits for an in-flight refresh.
func (lk *Lock) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if lk == nil || interval <= 0 {
		return func() {}
	}
	log := logger.FromContext(ctx).With().Str("owner", lk.Owner).Logger()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lk.Refresh(ctx)
				if errors.Is(err, ErrLockLost) {
					log.Error().Err(err).Msg("Run lock was broken by another run")
					return
				}
				if err != nil {
					log.Warn().Err(err).Msg("Failed to refresh run lock")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}
