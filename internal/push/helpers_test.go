package push

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alumnihub/alumnihub/internal/database"
	"github.com/alumnihub/alumnihub/internal/store"
	"github.com/alumnihub/alumnihub/internal/vault"
)

var kst = time.FixedZone("UTC+09:00", 9*60*60)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	db       *sql.DB
	keys     *vault.Keyring
	subs     *store.SubscriptionStore
	prefs    *store.PreferenceStore
	events   *store.EventStore
	members  *store.MemberStore
	ledger   *store.NotificationLogStore
	sendLogs *store.SendLogStore
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	secrets, _ := vault.ParseSecrets("v1:test-secret")
	keys, err := vault.NewKeyring(secrets, "v1")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}

	env := &testEnv{
		db:       db,
		keys:     keys,
		subs:     store.NewSubscriptionStore(db),
		prefs:    store.NewPreferenceStore(db),
		events:   store.NewEventStore(db),
		members:  store.NewMemberStore(db),
		ledger:   store.NewNotificationLogStore(db),
		sendLogs: store.NewSendLogStore(db),
	}
	env.registry = NewRegistry(env.subs, keys, discardLogger())
	return env
}

// subscribe stores a subscription with endpoint https://push.example.com/<name>.
func (e *testEnv) subscribe(t *testing.T, name string, memberID *int64) string {
	t.Helper()
	endpoint := "https://push.example.com/" + name
	if _, err := e.registry.Subscribe(context.Background(), memberID, endpoint, "p256dh-"+name, "auth-"+name); err != nil {
		t.Fatalf("subscribe %s: %v", name, err)
	}
	return endpoint
}

func (e *testEnv) member(t *testing.T, email string) int64 {
	t.Helper()
	m, err := e.members.Create(context.Background(), "Member", email)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m.ID
}

func (e *testEnv) dispatcher(tr Transport, cfg DispatcherConfig) *Dispatcher {
	d := NewDispatcher(tr, e.subs, e.sendLogs, e.keys, cfg, discardLogger())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

// fastConfig keeps the production batch size but makes retries near-instant.
func fastConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.RetryBase = time.Millisecond
	return cfg
}

// fakeTransport answers per endpoint from a script of status codes; the
// last status repeats. Unscripted endpoints get 201.
type fakeTransport struct {
	mu       sync.Mutex
	script   map[string][]int
	calls    []Target
	attempts map[string]int
	payloads [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{script: map[string][]int{}, attempts: map[string]int{}}
}

func (f *fakeTransport) Send(_ context.Context, target Target, payload []byte) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, target)
	f.payloads = append(f.payloads, payload)
	n := f.attempts[target.Endpoint]
	f.attempts[target.Endpoint] = n + 1

	status := http.StatusCreated
	if statuses := f.script[target.Endpoint]; len(statuses) > 0 {
		status = statuses[min(n, len(statuses)-1)]
	}
	if status == 0 {
		return Result{}, fmt.Errorf("dial tcp: connection refused")
	}
	if status < 300 {
		return Result{OK: true, StatusCode: status}, nil
	}
	return Result{StatusCode: status}, &SendError{StatusCode: status}
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
