// Package document builds the two canonical protocol documents: the case
// descriptor published once at escrow creation and the evidence record linking
// supporting material. Builders are pure; encoding is deterministic so the
// same inputs always produce byte-identical payloads.
package document

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol constants. The question and ruling options are fixed; only the
// narrative fields vary per case.
const (
	Category = "Escrow"
	Question = "Does the payer deserve to be refunded?"

	RoleLabelPayer = "payer"
	RoleLabelPayee = "payee"
)

// RulingOptions enumerates the choices put to the arbitrator. Option identity
// is positional: option 1 refunds the payer, option 2 pays the payee.
type RulingOptions struct {
	Type         string   `json:"type"`
	Titles       []string `json:"titles"`
	Descriptions []string `json:"descriptions"`
}

// CaseDescriptor is the immutable case-opening document. Its content address
// is the only thing recorded on-ledger.
type CaseDescriptor struct {
	Category      string            `json:"category"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Question      string            `json:"question"`
	RulingOptions RulingOptions     `json:"rulingOptions"`
	Aliases       map[string]string `json:"aliases"`
	Amount        string            `json:"amount"`
}

// EvidenceRecord is the immutable document linking an evidence payload to a
// display name and description. The payload itself is referenced by locator,
// never embedded.
type EvidenceRecord struct {
	FileURI     string `json:"fileURI"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BuildCaseDescriptor assembles the case descriptor for a new escrow. Role
// aliases are keyed by the checksummed form of each address so the same
// identity aliases to the same label regardless of input casing.
func BuildCaseDescriptor(payer, payee common.Address, amount *big.Int, title, description string) CaseDescriptor {
	return CaseDescriptor{
		Category:    Category,
		Title:       title,
		Description: description,
		Question:    Question,
		RulingOptions: RulingOptions{
			Type:   "single-select",
			Titles: []string{"Refund the Payer", "Pay the Payee"},
			Descriptions: []string{
				"Select to return funds to the payer",
				"Select to release funds to the payee",
			},
		},
		Aliases: map[string]string{
			payer.Hex(): RoleLabelPayer,
			payee.Hex(): RoleLabelPayee,
		},
		Amount: amount.String(),
	}
}

// BuildEvidenceRecord assembles an evidence record referencing an already
// published payload locator.
func BuildEvidenceRecord(payloadLocator, name, description string) EvidenceRecord {
	return EvidenceRecord{
		FileURI:     payloadLocator,
		Name:        name,
		Description: description,
	}
}

// Bytes returns the canonical serialized form of the descriptor. Object keys
// are emitted in sorted order, so equal descriptors encode to equal bytes.
func (d CaseDescriptor) Bytes() []byte {
	b, err := json.Marshal(d)
	if err != nil {
		panic(err) // struct of plain strings and maps; cannot fail
	}
	return b
}

// Bytes returns the canonical serialized form of the record.
func (r EvidenceRecord) Bytes() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return b
}
