package kvstore

import "testing"

func TestGetPutRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("expected missing key to be absent, got ok=%v err=%v", ok, err)
	}

	if err := store.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, ok, err := store.Get([]byte("k"))
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("got val=%q ok=%v err=%v", val, ok, err)
	}

	if err := store.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	val, _, _ = store.Get([]byte("k"))
	if string(val) != "v2" {
		t.Errorf("overwrite failed: got %q", val)
	}
}
