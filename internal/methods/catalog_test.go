package methods

import "testing"

func TestCatalog_LookupKnownSelector(t *testing.T) {
	c := Default()

	spec, ok := c.Lookup([4]byte{0xa4, 0x15, 0xbc, 0xad})
	if !ok {
		t.Fatal("expected borrow selector to be tracked")
	}
	if spec.Name != "borrow" {
		t.Errorf("expected borrow, got %s", spec.Name)
	}
	if spec.Sign != Increase {
		t.Errorf("expected increase sign, got %d", spec.Sign)
	}
	if spec.AmountArg != 1 {
		t.Errorf("expected amount in slot 1, got %d", spec.AmountArg)
	}
}

func TestCatalog_UnknownSelector(t *testing.T) {
	c := Default()

	_, ok := c.Lookup([4]byte{0xde, 0xad, 0xbe, 0xef})
	if ok {
		t.Error("untracked selector must not resolve")
	}
}

func TestCatalog_LookupInput(t *testing.T) {
	c := Default()

	if _, ok := c.LookupInput([]byte{0x57, 0x3a, 0xde, 0x81, 0x00, 0x00}); !ok {
		t.Error("expected repay calldata to match")
	}
	if _, ok := c.LookupInput([]byte{0x57}); ok {
		t.Error("truncated calldata must not match")
	}
	if _, ok := c.LookupInput(nil); ok {
		t.Error("empty calldata must not match")
	}
}

func TestCatalog_RepayDecreases(t *testing.T) {
	c := Default()

	for _, sel := range [][4]byte{
		{0x57, 0x3a, 0xde, 0x81},
		{0x2d, 0xad, 0x97, 0xd4},
	} {
		spec, ok := c.Lookup(sel)
		if !ok {
			t.Fatalf("selector %x not tracked", sel)
		}
		if spec.Sign != Decrease {
			t.Errorf("%s: expected decrease sign", spec.Name)
		}
	}
}
