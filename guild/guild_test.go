package guild

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/guildbot/db"
)

type fakeStore struct {
	mu      sync.Mutex
	guilds  map[string]db.Guild
	failGet map[string]bool
	calls   []string
}

func newFakeStore(gs ...db.Guild) *fakeStore {
	f := &fakeStore{guilds: map[string]db.Guild{}, failGet: map[string]bool{}}
	for _, g := range gs {
		f.guilds[g.ID] = g
	}
	return f
}

func (f *fakeStore) ListGuilds(ctx context.Context) ([]db.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Guild
	for _, g := range f.guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetGuild(ctx context.Context, id string) (*db.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet[id] {
		return nil, errors.New("boom")
	}
	g, ok := f.guilds[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *fakeStore) InsertGuild(ctx context.Context, g db.Guild) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert "+g.ID)
	f.guilds[g.ID] = g
	return nil
}

func (f *fakeStore) SetWarns(ctx context.Context, id string, warns map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "warns "+id)
	g := f.guilds[id]
	g.Warns = warns
	f.guilds[id] = g
	return nil
}

func (f *fakeStore) SetDisabledChannels(ctx context.Context, id string, channels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disabled "+id)
	g := f.guilds[id]
	g.DisabledChannels = channels
	f.guilds[id] = g
	return nil
}

func (f *fakeStore) DeleteGuild(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+id)
	delete(f.guilds, id)
	return nil
}

func TestReconcileRegistersMissingGuilds(t *testing.T) {
	store := newFakeStore()
	defaults := Defaults{Prefix: "&", Tags: map[string]string{"help": "see docs"}}

	res, err := Reconcile(context.Background(), store, []string{"alpha", "beta"}, defaults)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !reflect.DeepEqual(res.Registered, []string{"alpha", "beta"}) || len(res.Repaired) != 0 {
		t.Fatalf("result = %+v", res)
	}
	g := store.guilds["alpha"]
	if g.Prefix != "&" || g.Warns == nil || g.DisabledChannels == nil || g.Tags["help"] != "see docs" {
		t.Errorf("registered record = %+v", g)
	}

	// defaults are copied, not shared
	g.Tags["help"] = "changed"
	if defaults.Tags["help"] != "see docs" {
		t.Error("record tags alias the defaults map")
	}
}

func TestReconcileRepairsOneFieldPerPass(t *testing.T) {
	store := newFakeStore(db.Guild{ID: "broken", Prefix: "&"})

	res, err := Reconcile(context.Background(), store, []string{"broken"}, Defaults{Prefix: "&"})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !reflect.DeepEqual(res.Repaired, []string{"broken"}) {
		t.Fatalf("first pass result = %+v", res)
	}
	if store.guilds["broken"].Warns == nil {
		t.Fatal("warns not repaired")
	}
	if store.guilds["broken"].DisabledChannels != nil {
		t.Fatal("disabled channels repaired in the same pass as warns")
	}

	if _, err := Reconcile(context.Background(), store, []string{"broken"}, Defaults{Prefix: "&"}); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if store.guilds["broken"].DisabledChannels == nil {
		t.Fatal("disabled channels not repaired on second pass")
	}

	store.calls = nil
	res, _ = Reconcile(context.Background(), store, []string{"broken"}, Defaults{Prefix: "&"})
	if len(store.calls) != 0 || len(res.Repaired)+len(res.Registered) != 0 {
		t.Errorf("healthy record touched: calls=%q res=%+v", store.calls, res)
	}
}

func TestReconcileContinuesPastErrors(t *testing.T) {
	store := newFakeStore()
	store.failGet["bad"] = true

	res, err := Reconcile(context.Background(), store, []string{"bad", "good"}, Defaults{Prefix: "&"})
	if err == nil {
		t.Fatal("expected error for failing guild")
	}
	if !reflect.DeepEqual(res.Registered, []string{"good"}) {
		t.Errorf("Registered = %q", res.Registered)
	}
}

func TestPruneStale(t *testing.T) {
	store := newFakeStore(db.Guild{ID: "a"}, db.Guild{ID: "b"}, db.Guild{ID: "c"})

	deleted, err := PruneStale(context.Background(), store, []string{"b"})
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{"a", "c"}) {
		t.Errorf("deleted = %q", deleted)
	}
	if _, ok := store.guilds["b"]; !ok || len(store.guilds) != 1 {
		t.Errorf("remaining = %v", store.guilds)
	}
}

func TestPruneStaleEmptyLiveSetDeletesNothing(t *testing.T) {
	for _, live := range [][]string{nil, {}} {
		store := newFakeStore(db.Guild{ID: "a"}, db.Guild{ID: "b"})
		deleted, err := PruneStale(context.Background(), store, live)
		if !errors.Is(err, ErrNoLiveGuilds) {
			t.Errorf("PruneStale(%v) err = %v, want ErrNoLiveGuilds", live, err)
		}
		if len(deleted) != 0 || len(store.guilds) != 2 {
			t.Errorf("PruneStale(%v) deleted %q, remaining %d", live, deleted, len(store.guilds))
		}
	}
}

func TestParseWeekly(t *testing.T) {
	tests := []struct {
		in      string
		want    Weekly
		wantErr bool
	}{
		{in: "sun 00:00", want: Weekly{Day: time.Sunday}},
		{in: "Wednesday 13:45", want: Weekly{Day: time.Wednesday, Hour: 13, Minute: 45}},
		{in: "0 0 * * 0", want: Weekly{Day: time.Sunday}},
		{in: "30 4 * * 7", want: Weekly{Day: time.Sunday, Hour: 4, Minute: 30}},
		{in: "15 2 * * 5", want: Weekly{Day: time.Friday, Hour: 2, Minute: 15}},
		{in: "0 0 1 * *", wantErr: true},
		{in: "funday 00:00", wantErr: true},
		{in: "sun 25:00", wantErr: true},
		{in: "sun 0000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseWeekly(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWeekly(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWeekly(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestWeeklyNext(t *testing.T) {
	loc := time.UTC
	w := DefaultWeekly
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		// Wednesday -> following Sunday
		{time.Date(2024, 5, 15, 10, 0, 0, 0, loc), time.Date(2024, 5, 19, 0, 0, 0, 0, loc)},
		// exactly at the boundary -> one week later
		{time.Date(2024, 5, 19, 0, 0, 0, 0, loc), time.Date(2024, 5, 26, 0, 0, 0, 0, loc)},
		// Sunday afternoon -> next Sunday
		{time.Date(2024, 5, 19, 15, 0, 0, 0, loc), time.Date(2024, 5, 26, 0, 0, 0, 0, loc)},
		// Saturday late night
		{time.Date(2024, 5, 18, 23, 59, 0, 0, loc), time.Date(2024, 5, 19, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := w.Next(tt.now); !got.Equal(tt.want) {
			t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
	if DefaultWeekly.String() != "Sun 00:00" {
		t.Errorf("String() = %q", DefaultWeekly.String())
	}
}

func TestStartStaleCleanupJobStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartStaleCleanupJob(ctx, newFakeStore(), func() []string { return nil }, DefaultWeekly)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after cancel")
	}
}
