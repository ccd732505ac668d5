package httpkit

import (
	"fmt"
	"testing"
)

func TestUserDataSetGet(t *testing.T) {
	t.Parallel()

	var u userData

	u.Set("a", 1)
	u.Set("b", "two")
	u.SetBytes([]byte("c"), 3.0)

	if v := u.Get("a"); v != 1 {
		t.Fatalf("unexpected value %v for key a", v)
	}
	if v := u.Get("b"); v != "two" {
		t.Fatalf("unexpected value %v for key b", v)
	}
	if v := u.GetBytes([]byte("c")); v != 3.0 {
		t.Fatalf("unexpected value %v for key c", v)
	}
	if v := u.Get("missing"); v != nil {
		t.Fatalf("unexpected value %v for a missing key", v)
	}
}

func TestUserDataOverwrite(t *testing.T) {
	t.Parallel()

	var u userData
	u.Set("k", "old")
	u.Set("k", "new")
	if v := u.Get("k"); v != "new" {
		t.Fatalf("unexpected value %v after overwrite", v)
	}

	var count int
	u.VisitAll(func(key []byte, value interface{}) {
		count++
	})
	if count != 1 {
		t.Fatalf("overwrite duplicated the entry: %d entries", count)
	}
}

func TestUserDataRemove(t *testing.T) {
	t.Parallel()

	var u userData
	for i := 0; i < 5; i++ {
		u.Set(fmt.Sprintf("key_%d", i), i)
	}

	u.Remove("key_2")
	u.RemoveBytes([]byte("key_4"))

	if v := u.Get("key_2"); v != nil {
		t.Fatalf("removed key still visible: %v", v)
	}
	if v := u.Get("key_4"); v != nil {
		t.Fatalf("removed key still visible: %v", v)
	}
	if v := u.Get("key_3"); v != 3 {
		t.Fatalf("unrelated key lost: %v", v)
	}
}

func TestUserDataSlotReuseAfterRemove(t *testing.T) {
	t.Parallel()

	var u userData
	u.Set("a", 1)
	u.Set("b", 2)
	u.Remove("a")

	// The freed slot is reused for the next insert.
	u.Set("c", 3)
	if len(u) != 2 {
		t.Fatalf("unexpected slot count %d. Expecting 2", len(u))
	}
	if v := u.Get("c"); v != 3 {
		t.Fatalf("unexpected value %v for key c", v)
	}
	if v := u.Get("a"); v != nil {
		t.Fatalf("stale value %v for a removed key", v)
	}
}

type closeCounter struct {
	closed int
}

func (cc *closeCounter) Close() error {
	cc.closed++
	return nil
}

func TestUserDataResetClosesValues(t *testing.T) {
	t.Parallel()

	var u userData
	cc := &closeCounter{}
	u.Set("conn", cc)
	u.Set("plain", 42)

	u.Reset()

	if cc.closed != 1 {
		t.Fatalf("io.Closer value closed %d times. Expecting 1", cc.closed)
	}
	if v := u.Get("conn"); v != nil {
		t.Fatalf("value survived Reset: %v", v)
	}

	var count int
	u.VisitAll(func([]byte, interface{}) { count++ })
	if count != 0 {
		t.Fatalf("%d entries survived Reset", count)
	}
}

func TestUserDataRemoveClosesValue(t *testing.T) {
	t.Parallel()

	var u userData
	cc := &closeCounter{}
	u.Set("conn", cc)
	u.Remove("conn")
	if cc.closed != 1 {
		t.Fatalf("io.Closer value closed %d times. Expecting 1", cc.closed)
	}
}

func TestUserDataNilValueNotStored(t *testing.T) {
	t.Parallel()

	var u userData
	u.Set("k", nil)
	if len(u) != 0 {
		t.Fatalf("nil value created an entry")
	}
}
