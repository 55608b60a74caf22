package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testRecord(source string, nEns int) Record {
	return Record{
		Key: Key{
			Dataset: "scen_1",
			NN:      "bqn",
			Sim:     0,
			Source:  source,
			NEns:    nEns,
		},
		RunID:     "run-1",
		CreatedAt: time.Now(),
		NRep:      1,
		CRPS:      []float64{0.5, 0.6},
		MeanError: []float64{0.1, -0.1},
		Length:    []float64{3.1, 3.2},
		Covered:   []float64{1, 0},
		PIT:       []float64{0.4, 0.9},
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{
			name: "valid",
			key:  Key{Dataset: "scen_1", NN: "bqn", Sim: 0, Source: "vi-aw", NEns: 10},
		},
		{
			name:    "empty dataset",
			key:     Key{NN: "bqn", Source: "lp"},
			wantErr: true,
		},
		{
			name:    "negative sim",
			key:     Key{Dataset: "scen_1", NN: "bqn", Sim: -1, Source: "lp"},
			wantErr: true,
		},
		{
			name:    "separator in component",
			key:     Key{Dataset: "scen:1", NN: "bqn", Source: "lp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	key := Key{Dataset: "scen_4", NN: "drn", Sim: 7, Source: "vi-aw", NEns: 20}
	got, err := parseKey(key.String())
	if err != nil {
		t.Fatalf("parseKey(%q) error = %v", key.String(), err)
	}
	if got != key {
		t.Errorf("round trip = %+v, want %+v", got, key)
	}

	if _, err := parseKey("too:few:parts"); err == nil {
		t.Error("malformed key: expected error")
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := testRecord("lp", 10)
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.Get(ctx, record.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if got.RunID != "run-1" || len(got.CRPS) != 2 {
		t.Errorf("Get() = %+v, want stored record", got)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, found, err := store.Get(context.Background(), Key{
		Dataset: "scen_1", NN: "bqn", Source: "lp",
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
}

func TestMemoryStore_PutValidates(t *testing.T) {
	store := NewMemoryStore()

	bad := testRecord("lp", 10)
	bad.PIT = bad.PIT[:1]
	if err := store.Put(context.Background(), bad); err == nil {
		t.Error("inconsistent score lengths: expected error")
	}

	empty := Record{Key: Key{Dataset: "scen_1", NN: "bqn", Source: "lp"}}
	if err := store.Put(context.Background(), empty); err == nil {
		t.Error("record without scores: expected error")
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, source := range []string{"ind_0", "ind_1", "ref", "lp", "vi"} {
		if err := store.Put(ctx, testRecord(source, 2)); err != nil {
			t.Fatalf("Put(%s) error = %v", source, err)
		}
	}
	other := testRecord("lp", 2)
	other.Key.Sim = 1
	if err := store.Put(ctx, other); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	keys, err := store.List(ctx, "scen_1", "bqn", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 5 {
		t.Errorf("List() returned %d keys, want 5", len(keys))
	}

	keys, err = store.List(ctx, "scen_1", "drn", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() for absent nn returned %d keys, want 0", len(keys))
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := testRecord("vi", 5)
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	record.RunID = "run-2"
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _, err := store.Get(ctx, record.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", got.RunID)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(sim int) {
			defer wg.Done()
			record := testRecord("lp", 10)
			record.Key.Sim = sim
			if err := store.Put(ctx, record); err != nil {
				t.Errorf("Put() error = %v", err)
			}
			if _, _, err := store.Get(ctx, record.Key); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 10 {
		t.Errorf("Len() = %d, want 10", store.Len())
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, testRecord("lp", 1)); err == nil {
		t.Error("Put with canceled context: expected error")
	}
	if _, _, err := store.Get(ctx, testRecord("lp", 1).Key); err == nil {
		t.Error("Get with canceled context: expected error")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := testRecord("ref", 0)
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if !store.Delete(record.Key) {
		t.Error("Delete() = false for existing key")
	}
	if store.Delete(record.Key) {
		t.Error("Delete() = true for removed key")
	}
}
