package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LenderRecord is one ranked wallet in a result set. Read-only, recomputed
// each run.
type LenderRecord struct {
	Address        common.Address
	Balance        *big.Int
	PoolPercentage float64
}

// ResultSet is the sole externally visible artifact of a reconstruction
// run. Never mutated after construction; rank is slice position.
type ResultSet struct {
	Lenders            []LenderRecord
	TotalLent          *big.Int
	TotalPoolLiquidity *big.Int
	LiquiditySource    LiquiditySource
	QueriedToken       common.Address
	Timestamp          time.Time
}

// Clone returns a deep copy: the lender slice and every big.Int are
// duplicated, so mutating the copy never reaches the original.
func (r ResultSet) Clone() ResultSet {
	out := r
	out.TotalLent = cloneBig(r.TotalLent)
	out.TotalPoolLiquidity = cloneBig(r.TotalPoolLiquidity)
	if r.Lenders != nil {
		out.Lenders = make([]LenderRecord, len(r.Lenders))
		for i, l := range r.Lenders {
			out.Lenders[i] = LenderRecord{
				Address:        l.Address,
				Balance:        cloneBig(l.Balance),
				PoolPercentage: l.PoolPercentage,
			}
		}
	}
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Monetary amounts cross the boundary as decimal strings. A JSON number
// would be re-parsed as a float by most consumers and silently lose
// precision above 2^53.

type lenderRecordJSON struct {
	Address        string  `json:"address"`
	Balance        string  `json:"balance"`
	PoolPercentage float64 `json:"poolPercentage"`
}

type resultSetJSON struct {
	Lenders            []lenderRecordJSON `json:"lenders"`
	TotalLent          string             `json:"totalLent"`
	TotalPoolLiquidity string             `json:"totalPoolLiquidity"`
	LiquiditySource    string             `json:"liquiditySource"`
	QueriedToken       string             `json:"queriedToken"`
	Timestamp          time.Time          `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (r ResultSet) MarshalJSON() ([]byte, error) {
	out := resultSetJSON{
		Lenders:            make([]lenderRecordJSON, 0, len(r.Lenders)),
		TotalLent:          bigString(r.TotalLent),
		TotalPoolLiquidity: bigString(r.TotalPoolLiquidity),
		LiquiditySource:    string(r.LiquiditySource),
		QueriedToken:       r.QueriedToken.Hex(),
		Timestamp:          r.Timestamp,
	}
	for _, l := range r.Lenders {
		out.Lenders = append(out.Lenders, lenderRecordJSON{
			Address:        l.Address.Hex(),
			Balance:        bigString(l.Balance),
			PoolPercentage: l.PoolPercentage,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ResultSet) UnmarshalJSON(data []byte) error {
	var in resultSetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	totalLent, err := parseBig(in.TotalLent)
	if err != nil {
		return fmt.Errorf("totalLent: %w", err)
	}
	liquidity, err := parseBig(in.TotalPoolLiquidity)
	if err != nil {
		return fmt.Errorf("totalPoolLiquidity: %w", err)
	}
	r.Lenders = make([]LenderRecord, 0, len(in.Lenders))
	for i, l := range in.Lenders {
		balance, err := parseBig(l.Balance)
		if err != nil {
			return fmt.Errorf("lenders[%d].balance: %w", i, err)
		}
		r.Lenders = append(r.Lenders, LenderRecord{
			Address:        common.HexToAddress(l.Address),
			Balance:        balance,
			PoolPercentage: l.PoolPercentage,
		})
	}
	r.TotalLent = totalLent
	r.TotalPoolLiquidity = liquidity
	r.LiquiditySource = LiquiditySource(in.LiquiditySource)
	r.QueriedToken = common.HexToAddress(in.QueriedToken)
	r.Timestamp = in.Timestamp
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
