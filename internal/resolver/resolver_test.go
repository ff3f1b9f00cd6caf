package resolver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/little-cache/little-cache/internal/cache"
)

func TestResolveScenarioHitMissAndForceRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")

	const url = "http://x/img.png"
	env.fetcher.setPayload(bytes.Repeat([]byte("a"), 10))

	handle, err := env.resolver.Resolve(ctx, url, "images", false)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if handle.CacheHit {
		t.Fatalf("first resolve should be a miss")
	}
	if handle.Key != cache.LegacyKey(url) {
		t.Fatalf("handle key %d does not match LegacyKey", handle.Key)
	}
	if handle.SizeBytes != 10 {
		t.Fatalf("expected 10 bytes, got %d", handle.SizeBytes)
	}
	info, err := os.Stat(filepath.Join(env.root, "images", cache.FileName(cache.LegacyKey(url))))
	if err != nil || info.Size() != 10 {
		t.Fatalf("entry should exist on disk with 10 bytes (info=%v, err=%v)", info, err)
	}

	again, err := env.resolver.Resolve(ctx, url, "images", false)
	if err != nil {
		t.Fatalf("second resolve error: %v", err)
	}
	if !again.CacheHit {
		t.Fatalf("second resolve should be a hit")
	}
	data, err := again.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte("a"), 10)) {
		t.Fatalf("unexpected cached bytes %q", data)
	}
	if got := env.fetcher.count(); got != 1 {
		t.Fatalf("expected 1 fetch after hit, got %d", got)
	}

	env.fetcher.setPayload(bytes.Repeat([]byte("b"), 20))
	refreshed, err := env.resolver.Resolve(ctx, url, "images", true)
	if err != nil {
		t.Fatalf("forced resolve error: %v", err)
	}
	if refreshed.SizeBytes != 20 || refreshed.CacheHit {
		t.Fatalf("forced resolve should rewrite 20 bytes, got size=%d hit=%v", refreshed.SizeBytes, refreshed.CacheHit)
	}
	if got := env.fetcher.count(); got != 2 {
		t.Fatalf("expected 2 fetches after force refresh, got %d", got)
	}
	data, _ = refreshed.ReadAll(ctx)
	if !bytes.Equal(data, bytes.Repeat([]byte("b"), 20)) {
		t.Fatalf("forced refresh should overwrite content, got %q", data)
	}
}

func TestForceRefreshAlwaysFetches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")
	env.fetcher.setPayload([]byte("v1"))

	for i := 1; i <= 3; i++ {
		if _, err := env.resolver.ForceRefresh(ctx, "http://x/a", "images"); err != nil {
			t.Fatalf("force refresh error: %v", err)
		}
		if got := env.fetcher.count(); got != int64(i) {
			t.Fatalf("expected %d fetches, got %d", i, got)
		}
	}
}

func TestForceRefreshDoesNotJoinEarlierRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")

	const url = "http://x/a"
	env.fetcher.setPayload([]byte("v1"))
	env.fetcher.setDelay(150 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := env.resolver.ForceRefresh(ctx, url, "images")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for env.fetcher.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first refresh never reached the fetcher")
		}
		time.Sleep(time.Millisecond)
	}

	env.fetcher.setPayload([]byte("v2-newer"))
	env.fetcher.setDelay(0)

	handle, err := env.resolver.ForceRefresh(ctx, url, "images")
	if err != nil {
		t.Fatalf("second refresh error: %v", err)
	}
	if got := env.fetcher.count(); got != 2 {
		t.Fatalf("second refresh must fetch on its own, fetches=%d", got)
	}
	if handle.SizeBytes != int64(len("v2-newer")) || handle.CacheHit {
		t.Fatalf("second refresh should see the newer body, size=%d hit=%v", handle.SizeBytes, handle.CacheHit)
	}

	if err := <-done; err != nil {
		t.Fatalf("first refresh error: %v", err)
	}
}

func TestResolveTreatsZeroLengthEntryAsMiss(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")

	const url = "http://x/empty.png"
	empty := filepath.Join(env.root, "images", cache.FileName(cache.LegacyKey(url)))
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("inject empty entry: %v", err)
	}

	env.fetcher.setPayload([]byte("filled"))
	handle, err := env.resolver.Resolve(ctx, url, "images", false)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if env.fetcher.count() != 1 {
		t.Fatalf("zero-length entry must trigger a fetch")
	}
	if handle.SizeBytes != int64(len("filled")) {
		t.Fatalf("unexpected size %d", handle.SizeBytes)
	}
}

func TestResolveRequiresExistingBucket(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.resolver.Resolve(context.Background(), "http://x/a", "missing", false)
	if !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("expected ErrBucketNotFound, got %v", err)
	}
	if env.fetcher.count() != 0 {
		t.Fatalf("missing bucket must not trigger a fetch")
	}
	if _, statErr := os.Stat(filepath.Join(env.root, "missing")); !os.IsNotExist(statErr) {
		t.Fatalf("resolve must not create buckets")
	}
}

func TestResolveRejectsInvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "images")

	testCases := []struct {
		name   string
		url    string
		bucket string
	}{
		{"empty url", "", "images"},
		{"empty bucket", "http://x/a", ""},
		{"nested bucket", "http://x/a", "images/../etc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.resolver.Resolve(context.Background(), tc.url, tc.bucket, false)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if KindOf(err) != KindInvalidArgument {
				t.Fatalf("KindOf mismatch: %s", KindOf(err))
			}
		})
	}
}

func TestResolveFetchFailureKeepsExistingEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")

	const url = "http://x/img.png"
	env.fetcher.setPayload([]byte("good"))
	if _, err := env.resolver.Resolve(ctx, url, "images", false); err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	transportErr := errors.New("dial tcp: connection refused")
	env.fetcher.setError(transportErr)
	_, err := env.resolver.ForceRefresh(ctx, url, "images")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if !errors.Is(err, transportErr) {
		t.Fatalf("FetchFailed should wrap the transport error, got %v", err)
	}

	handle, err := env.resolver.Resolve(ctx, url, "images", false)
	if err != nil {
		t.Fatalf("resolve after failure: %v", err)
	}
	data, _ := handle.ReadAll(ctx)
	if string(data) != "good" {
		t.Fatalf("failed refresh must leave the previous entry intact, got %q", data)
	}
}

func TestResolveBodyReadFailureIsFetchFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")

	readErr := errors.New("unexpected EOF from upstream")
	env.fetcher.setBody(func() io.Reader {
		return io.MultiReader(strings.NewReader("partial"), failingReader{readErr})
	})

	_, err := env.resolver.Resolve(ctx, "http://x/broken", "images", false)
	if !errors.Is(err, ErrFetchFailed) || !errors.Is(err, readErr) {
		t.Fatalf("expected FetchFailed wrapping the read error, got %v", err)
	}
	if _, probeErr := env.store.Probe(ctx, "images", cache.LegacyKey("http://x/broken")); !errors.Is(probeErr, cache.ErrNotFound) {
		t.Fatalf("partial body must not become an entry, probe=%v", probeErr)
	}
}

func TestResolveSingleFlightColdKey(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "images")
	env.fetcher.setPayload([]byte("shared-payload"))
	env.fetcher.setDelay(100 * time.Millisecond)

	const callers = 50
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([][]byte, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handle, err := env.resolver.Resolve(context.Background(), "http://x/cold.png", "images", false)
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = handle.ReadAll(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if got := env.fetcher.count(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if string(results[i]) != "shared-payload" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
}

func TestResolveCallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "images")
	env.fetcher.setPayload([]byte("late"))
	env.fetcher.setDelay(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		patient  *Handle
		patErr   error
		impatErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, impatErr = env.resolver.Resolve(ctx, "http://x/slow", "images", false)
	}()
	go func() {
		defer wg.Done()
		patient, patErr = env.resolver.Resolve(context.Background(), "http://x/slow", "images", false)
	}()
	wg.Wait()

	if !errors.Is(impatErr, context.DeadlineExceeded) {
		t.Fatalf("cancelled caller should see its deadline, got %v", impatErr)
	}
	if patErr != nil {
		t.Fatalf("patient caller error: %v", patErr)
	}
	if patient.SizeBytes != int64(len("late")) {
		t.Fatalf("patient caller should receive the shared result, size=%d", patient.SizeBytes)
	}
	if env.fetcher.count() != 1 {
		t.Fatalf("expected one shared fetch, got %d", env.fetcher.count())
	}
}

func TestResolveUsesInjectedKeyFunc(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.KeyFunc = cache.XXHashKey
	})
	env.createBucket(t, "images")
	env.fetcher.setPayload([]byte("xx"))

	handle, err := env.resolver.Resolve(context.Background(), "http://x/img.png", "images", false)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if handle.Key != cache.XXHashKey("http://x/img.png") {
		t.Fatalf("resolver should use the injected KeyFunc")
	}
	if env.resolver.Key("http://x/img.png") != handle.Key {
		t.Fatalf("Key should match the handle key")
	}
}

func TestBucketsAreIndependentNamespaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "a")
	env.createBucket(t, "b")

	env.fetcher.setPayload([]byte("from-a"))
	if _, err := env.resolver.Resolve(ctx, "http://x/same", "a", false); err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	env.fetcher.setPayload([]byte("from-b"))
	handle, err := env.resolver.Resolve(ctx, "http://x/same", "b", false)
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if handle.CacheHit {
		t.Fatalf("entry in bucket a must not satisfy bucket b")
	}
	if env.fetcher.count() != 2 {
		t.Fatalf("expected a fetch per bucket, got %d", env.fetcher.count())
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{Fetcher: &countingFetcher{}}); err == nil {
		t.Fatalf("missing store should be rejected")
	}
	store, _ := cache.NewStore(t.TempDir())
	if _, err := New(Options{Store: store}); err == nil {
		t.Fatalf("missing fetcher should be rejected")
	}
}

type testEnv struct {
	root     string
	store    cache.Store
	fetcher  *countingFetcher
	resolver *Resolver
	manager  *Manager
}

func newTestEnv(t *testing.T, mutators ...func(*Options)) *testEnv {
	t.Helper()

	root := t.TempDir()
	store, err := cache.NewStore(root)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	fetcher := &countingFetcher{}
	opts := Options{Store: store, Fetcher: fetcher, PrefetchConcurrency: 4}
	for _, mutate := range mutators {
		mutate(&opts)
	}
	res, err := New(opts)
	if err != nil {
		t.Fatalf("resolver error: %v", err)
	}
	manager, err := NewManager(store, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	return &testEnv{root: root, store: store, fetcher: fetcher, resolver: res, manager: manager}
}

func (e *testEnv) createBucket(t *testing.T, name string) {
	t.Helper()
	if err := e.manager.CreateBucket(context.Background(), name); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
}

// countingFetcher 记录调用次数，并按当前设置返回固定正文、错误或延迟。
type countingFetcher struct {
	calls atomic.Int64

	mu      sync.Mutex
	payload []byte
	body    func() io.Reader
	err     error
	delay   time.Duration
	perURL  map[string]error
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.calls.Add(1)

	f.mu.Lock()
	payload, body, err, delay := f.payload, f.body, f.err, f.delay
	if urlErr, ok := f.perURL[url]; ok {
		err = urlErr
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		return io.NopCloser(body()), nil
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (f *countingFetcher) count() int64 {
	return f.calls.Load()
}

func (f *countingFetcher) setPayload(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload, f.body, f.err = p, nil, nil
}

func (f *countingFetcher) setBody(body func() io.Reader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = body, nil
}

func (f *countingFetcher) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *countingFetcher) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *countingFetcher) failURL(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.perURL == nil {
		f.perURL = make(map[string]error)
	}
	f.perURL[url] = err
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }
