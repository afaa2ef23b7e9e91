package document

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	payer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payee = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func TestBuildCaseDescriptor_Deterministic(t *testing.T) {
	amount := big.NewInt(100)

	first := BuildCaseDescriptor(payer, payee, amount, "Cleaning job", "Weekly office cleaning").Bytes()
	second := BuildCaseDescriptor(payer, payee, amount, "Cleaning job", "Weekly office cleaning").Bytes()

	if !bytes.Equal(first, second) {
		t.Fatalf("same inputs produced different bytes:\n%s\n%s", first, second)
	}
}

func TestBuildCaseDescriptor_CanonicalAliases(t *testing.T) {
	lower := common.HexToAddress("0x5aeda56215b167893e80b4fe645ba6d5bab767de")
	upper := common.HexToAddress("0x5AEDA56215B167893E80B4FE645BA6D5BAB767DE")

	a := BuildCaseDescriptor(lower, payee, big.NewInt(1), "t", "d")
	b := BuildCaseDescriptor(upper, payee, big.NewInt(1), "t", "d")

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("alias keys differ for the same identity")
	}
	if got := a.Aliases[lower.Hex()]; got != RoleLabelPayer {
		t.Fatalf("expected payer alias under checksummed key, got %q", got)
	}
}

func TestBuildCaseDescriptor_FixedProtocolFields(t *testing.T) {
	d := BuildCaseDescriptor(payer, payee, big.NewInt(42), "title", "desc")

	if d.Category != Category || d.Question != Question {
		t.Fatalf("protocol constants not applied: %+v", d)
	}
	if len(d.RulingOptions.Titles) != 2 || len(d.RulingOptions.Descriptions) != 2 {
		t.Fatalf("ruling options must enumerate exactly two choices: %+v", d.RulingOptions)
	}
	if d.RulingOptions.Type != "single-select" {
		t.Fatalf("unexpected ruling options type %q", d.RulingOptions.Type)
	}
	if d.Amount != "42" {
		t.Fatalf("expected amount 42, got %q", d.Amount)
	}
}

func TestBuildEvidenceRecord_RoundTrip(t *testing.T) {
	rec := BuildEvidenceRecord("/ipfs/QmPayload", "invoice.pdf", "Signed invoice")

	var decoded EvidenceRecord
	if err := json.Unmarshal(rec.Bytes(), &decoded); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if decoded != rec {
		t.Fatalf("record changed through encoding: %+v != %+v", decoded, rec)
	}
	if decoded.FileURI != "/ipfs/QmPayload" {
		t.Fatalf("unexpected fileURI %q", decoded.FileURI)
	}
}
