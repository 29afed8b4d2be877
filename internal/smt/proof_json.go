package smt

import (
	"encoding/hex"
	"fmt"
)

// ProofJSON is the JSON-RPC wire shape for a Proof: hex strings for
// every byte field, matching the teacher's ToResponse() convention for
// transparency proofs (base64/hex field conversions at the API
// boundary rather than inside the core type).
type ProofJSON struct {
	Siblings     []string `json:"siblings"`
	LeafHash     string   `json:"leaf_hash"`
	Path         string   `json:"path"`
	ZerosOmitted uint16   `json:"zeros_omitted"`
	LeafData     string   `json:"leaf_data,omitempty"`
}

func (p *Proof) ToResponse() ProofJSON {
	out := ProofJSON{
		Siblings:     make([]string, len(p.Siblings)),
		LeafHash:     hex.EncodeToString(p.LeafHash[:]),
		Path:         hex.EncodeToString(p.Path[:]),
		ZerosOmitted: p.ZerosOmitted,
	}
	for i, s := range p.Siblings {
		out.Siblings[i] = hex.EncodeToString(s[:])
	}
	if p.LeafData != nil {
		out.LeafData = hex.EncodeToString(p.LeafData)
	}
	return out
}

func ProofFromResponse(r ProofJSON) (*Proof, error) {
	p := &Proof{ZerosOmitted: r.ZerosOmitted}
	p.Siblings = make([]Hash, len(r.Siblings))
	for i, s := range r.Siblings {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("sibling %d: %w", i, err)
		}
		h, ok := HashFromBytes(b)
		if !ok {
			return nil, fmt.Errorf("sibling %d: wrong length", i)
		}
		p.Siblings[i] = h
	}
	leafHashBytes, err := hex.DecodeString(r.LeafHash)
	if err != nil {
		return nil, fmt.Errorf("leaf_hash: %w", err)
	}
	leafHash, ok := HashFromBytes(leafHashBytes)
	if !ok {
		return nil, fmt.Errorf("leaf_hash: wrong length")
	}
	p.LeafHash = leafHash

	pathBytes, err := hex.DecodeString(r.Path)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	if len(pathBytes) != TreeDepth {
		return nil, fmt.Errorf("path: expected %d bytes, got %d", TreeDepth, len(pathBytes))
	}
	copy(p.Path[:], pathBytes)

	if r.LeafData != "" {
		data, err := hex.DecodeString(r.LeafData)
		if err != nil {
			return nil, fmt.Errorf("leaf_data: %w", err)
		}
		p.LeafData = data
	}
	return p, nil
}
