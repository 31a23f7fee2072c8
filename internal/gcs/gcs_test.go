package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/txn-tidy/internal/logger"
)

type fakeObject struct {
	data       []byte
	generation int64
	created    time.Time
}

// fakeStore is an in-memory ObjectStore with generation preconditions.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	gen     int64
	now     func() time.Time
	PutErr  error
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{objects: make(map[string]*fakeObject), now: now}
}

func (f *fakeStore) Put(ctx context.Context, bucket, object string, data []byte, contentType string, ifAbsent bool) (ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return ObjectAttrs{}, f.PutErr
	}
	key := bucket + "/" + object
	if _, ok := f.objects[key]; ok && ifAbsent {
		return ObjectAttrs{}, ErrPreconditionFailed
	}
	f.gen++
	obj := &fakeObject{data: append([]byte(nil), data...), generation: f.gen, created: f.now()}
	f.objects[key] = obj
	return ObjectAttrs{Generation: obj.generation, Created: obj.created}, nil
}

func (f *fakeStore) Replace(ctx context.Context, bucket, object string, data []byte, contentType string, generation int64) (ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bucket + "/" + object
	obj, ok := f.objects[key]
	if !ok {
		return ObjectAttrs{}, ErrNotExist
	}
	if obj.generation != generation {
		return ObjectAttrs{}, ErrPreconditionFailed
	}
	f.gen++
	next := &fakeObject{data: append([]byte(nil), data...), generation: f.gen, created: f.now()}
	f.objects[key] = next
	return ObjectAttrs{Generation: next.generation, Created: next.created}, nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+object]
	if !ok {
		return nil, ErrNotExist
	}
	return obj.data, nil
}

func (f *fakeStore) Stat(ctx context.Context, bucket, object string) (ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+object]
	if !ok {
		return ObjectAttrs{}, ErrNotExist
	}
	return ObjectAttrs{Generation: obj.generation, Created: obj.created}, nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, object string, generation int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bucket + "/" + object
	obj, ok := f.objects[key]
	if !ok {
		return ErrNotExist
	}
	if generation != 0 && obj.generation != generation {
		return ErrPreconditionFailed
	}
	delete(f.objects, key)
	return nil
}

func quietContext() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func TestLocker_AcquireRelease(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	ctx := quietContext()

	first := NewLocker(store, "bucket", "txn-tidy/run.lock", 30*time.Minute)
	first.now = clock
	lock, err := first.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	second := NewLocker(store, "bucket", "txn-tidy/run.lock", 30*time.Minute)
	second.now = clock
	if _, err := second.Acquire(ctx); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v, want ErrLocked", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := second.Acquire(ctx); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestLock_RefreshKeepsLockFresh(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	store := newFakeStore(clock)
	ctx := quietContext()

	holder := NewLocker(store, "bucket", "run.lock", time.Hour)
	holder.now = clock
	lock, err := holder.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	other := NewLocker(store, "bucket", "run.lock", time.Hour)
	other.now = clock

	// A run longer than the TTL keeps its lock as long as it refreshes.
	for i := 0; i < 3; i++ {
		advance(40 * time.Minute)
		if err := lock.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() #%d error = %v", i+1, err)
		}
	}
	advance(40 * time.Minute)
	if _, err := other.Acquire(ctx); !errors.Is(err, ErrLocked) {
		t.Errorf("Acquire() on refreshed lock error = %v, want ErrLocked", err)
	}

	data, err := store.Get(ctx, "bucket", "run.lock")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var body lockBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Owner != lock.Owner || body.RefreshedAt.IsZero() {
		t.Errorf("lock body = %+v, want owner %s with refreshed_at", body, lock.Owner)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.Stat(ctx, "bucket", "run.lock"); !errors.Is(err, ErrNotExist) {
		t.Errorf("lock object after Release() error = %v, want ErrNotExist", err)
	}
}

func TestLock_RefreshAfterBreak(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	ctx := quietContext()

	first := NewLocker(store, "bucket", "run.lock", time.Hour)
	first.now = clock
	lock, err := first.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	second := NewLocker(store, "bucket", "run.lock", time.Hour)
	second.now = clock
	if _, err := second.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}

	if err := lock.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Errorf("Refresh() error = %v, want ErrLockLost", err)
	}
}

func TestLock_KeepAlive(t *testing.T) {
	store := newFakeStore(time.Now)
	ctx := quietContext()

	lock, err := NewLocker(store, "bucket", "run.lock", time.Hour).Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	first, err := store.Stat(ctx, "bucket", "run.lock")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	stop := lock.KeepAlive(ctx, 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for {
		attrs, err := store.Stat(ctx, "bucket", "run.lock")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if attrs.Generation != first.Generation {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lock was not refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
	stop()

	// The refreshed generation is the one Release deletes.
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.Stat(ctx, "bucket", "run.lock"); !errors.Is(err, ErrNotExist) {
		t.Errorf("lock object after Release() error = %v, want ErrNotExist", err)
	}
}

func TestLocker_BreaksStaleLock(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	ctx := quietContext()

	stale := NewLocker(store, "bucket", "run.lock", time.Hour)
	stale.now = clock
	old, err := stale.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	fresh := NewLocker(store, "bucket", "run.lock", time.Hour)
	fresh.now = clock
	lock, err := fresh.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	if lock.Owner == old.Owner {
		t.Error("new lock has the stale owner")
	}

	// Releasing the broken lock must not remove the new one.
	if err := old.Release(ctx); err != nil {
		t.Fatalf("stale Release() error = %v", err)
	}
	if _, err := store.Stat(ctx, "bucket", "run.lock"); err != nil {
		t.Errorf("stale Release() removed the new lock: %v", err)
	}
}

func TestLocker_PutError(t *testing.T) {
	store := newFakeStore(time.Now)
	store.PutErr = errors.New("permission denied")

	_, err := NewLocker(store, "bucket", "run.lock", time.Hour).Acquire(quietContext())
	if err == nil || errors.Is(err, ErrLocked) {
		t.Errorf("Acquire() error = %v, want non-lock error", err)
	}
}

func TestUploadReport(t *testing.T) {
	store := newFakeStore(time.Now)
	started := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)

	uri, err := UploadReport(context.Background(), store, "reports", "txn-tidy/reports", "run-1", started, map[string]int{"updated": 3})
	if err != nil {
		t.Fatalf("UploadReport() error = %v", err)
	}
	want := "gs://reports/txn-tidy/reports/2024-03-05/run-1.json"
	if uri != want {
		t.Errorf("UploadReport() = %q, want %q", uri, want)
	}

	data, err := Fetch(context.Background(), store, uri)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["updated"] != 3 {
		t.Errorf("report = %v, want updated=3", got)
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://bucket/configs/home.yaml", wantBucket: "bucket", wantObject: "configs/home.yaml"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs://bucket/", wantErr: true},
		{uri: "/local/path.yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI() = %q, %q, want %q, %q", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilename(t *testing.T) {
	if got := ExtractFilename("gs://bucket/folder/run.yaml"); got != "run.yaml" {
		t.Errorf("ExtractFilename() = %q, want run.yaml", got)
	}
}
