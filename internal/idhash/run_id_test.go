package idhash

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeRunID(t *testing.T) {
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	other := common.HexToAddress("0x4200000000000000000000000000000000000006")
	at := time.UnixMilli(1700000000000)

	id := ComputeRunID(token, time.Hour, at)
	if len(id) != 64 {
		t.Errorf("expected 64-char hash, got %d", len(id))
	}

	// Deterministic for identical inputs.
	if id != ComputeRunID(token, time.Hour, at) {
		t.Error("same inputs produced different IDs")
	}

	// Any input change produces a different ID.
	if id == ComputeRunID(other, time.Hour, at) {
		t.Error("different token produced same ID")
	}
	if id == ComputeRunID(token, 2*time.Hour, at) {
		t.Error("different lookback produced same ID")
	}
	if id == ComputeRunID(token, time.Hour, at.Add(time.Millisecond)) {
		t.Error("different start time produced same ID")
	}
}
