// Package methods maps 4-byte call selectors to decode rules for the
// lending pool's borrow/repay surface.
package methods

// Sign is the direction a method moves a wallet's outstanding balance.
type Sign int

const (
	// Increase grows the outstanding balance (borrow-style calls).
	Increase Sign = 1
	// Decrease shrinks the outstanding balance (repay-style calls).
	Decrease Sign = -1
)

// MethodSpec describes how to decode one tracked contract method.
type MethodSpec struct {
	Selector [4]byte
	Name     string
	// AmountArg is the zero-based ABI argument slot carrying the uint256
	// amount. Slot i starts at byte 4+32*i of the calldata.
	AmountArg int
	Sign      Sign
}

// Catalog is an immutable selector lookup, built once at startup and
// injected into discovery and resolution.
type Catalog struct {
	specs map[[4]byte]MethodSpec
}

// NewCatalog builds a catalog from the given specs.
func NewCatalog(specs []MethodSpec) *Catalog {
	m := make(map[[4]byte]MethodSpec, len(specs))
	for _, s := range specs {
		m[s.Selector] = s
	}
	return &Catalog{specs: m}
}

// Default returns the catalog for the standard pool methods.
func Default() *Catalog {
	return NewCatalog([]MethodSpec{
		{
			// borrow(address,uint256,uint256,uint16,address)
			Selector:  [4]byte{0xa4, 0x15, 0xbc, 0xad},
			Name:      "borrow",
			AmountArg: 1,
			Sign:      Increase,
		},
		{
			// repay(address,uint256,uint256,address)
			Selector:  [4]byte{0x57, 0x3a, 0xde, 0x81},
			Name:      "repay",
			AmountArg: 1,
			Sign:      Decrease,
		},
		{
			// repayWithATokens(address,uint256,uint256)
			Selector:  [4]byte{0x2d, 0xad, 0x97, 0xd4},
			Name:      "repayWithATokens",
			AmountArg: 1,
			Sign:      Decrease,
		},
	})
}

// Lookup returns the MethodSpec for a selector, if tracked.
func (c *Catalog) Lookup(selector [4]byte) (MethodSpec, bool) {
	s, ok := c.specs[selector]
	return s, ok
}

// LookupInput matches the first four bytes of calldata.
func (c *Catalog) LookupInput(input []byte) (MethodSpec, bool) {
	if len(input) < 4 {
		return MethodSpec{}, false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	return c.Lookup(sel)
}

// Len returns the number of tracked selectors.
func (c *Catalog) Len() int {
	return len(c.specs)
}
