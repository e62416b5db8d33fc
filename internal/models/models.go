package models

import "time"

// CompactKind distinguishes the three compact shapes a sponsor may submit.
type CompactKind int

const (
	CompactKindSingle CompactKind = iota
	CompactKindBatch
	CompactKindMultichain
)

// Compact is the root authorization record. It is created on first
// successful submission and never mutated afterward.
type Compact struct {
	ID        string      `json:"id" gorm:"primaryKey"`
	Kind      CompactKind `json:"kind" gorm:"not null"`
	ChainID   uint64      `json:"chainId" gorm:"not null;index:idx_compacts_chain_claim,unique,priority:1"`
	ClaimHash string      `json:"claimHash" gorm:"size:66;not null;index:idx_compacts_chain_claim,unique,priority:2"`
	Sponsor   string      `json:"sponsor" gorm:"size:42;not null;index"`
	Nonce     string      `json:"nonce" gorm:"size:66;not null"` // hex, 32 bytes
	Expires   int64       `json:"expires" gorm:"not null"`
	Signature string      `json:"signature" gorm:"size:132;not null"`

	WitnessTypeString string `json:"witnessTypeString,omitempty"`
	WitnessHash       string `json:"witnessHash,omitempty" gorm:"size:66"`

	Elements []Element `json:"elements" gorm:"foreignKey:CompactID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"createdAt"`
}

func (Compact) TableName() string { return "compacts" }

// Element is a child of Compact. Single and batch compacts carry exactly
// one; multichain compacts carry one or more, in submission order.
type Element struct {
	ID           string `json:"id" gorm:"primaryKey"`
	CompactID    string `json:"compactId" gorm:"not null;index"`
	ElementIndex int    `json:"elementIndex" gorm:"not null"`
	Arbiter      string `json:"arbiter" gorm:"size:42;not null"`
	ChainID      uint64 `json:"chainId" gorm:"not null;index"`
	MandateHash  string `json:"mandateHash,omitempty" gorm:"size:66"`
	WitnessHash  string `json:"witnessHash,omitempty" gorm:"size:66"` // every element for multichain; element 0 carries a single/batch witness

	Commitments []Commitment `json:"commitments" gorm:"foreignKey:ElementID;constraint:OnDelete:CASCADE"`
}

func (Element) TableName() string { return "elements" }

// Commitment is a child of Element: one resource-lock reservation.
type Commitment struct {
	ID        string `json:"id" gorm:"primaryKey"`
	ElementID string `json:"elementId" gorm:"not null;index"`
	LockTag   string `json:"lockTag" gorm:"size:26;not null"` // 12 bytes hex
	Token     string `json:"token" gorm:"size:42;not null"`
	Amount    string `json:"amount" gorm:"size:78;not null"` // decimal uint256
	LockID    string `json:"lockId" gorm:"size:66;not null;index"`
}

func (Commitment) TableName() string { return "commitments" }

// ConsumedNonce records a spent nonce. The 256-bit value is split into a
// 192-bit high part (sponsor-bound prefix) and a 64-bit low part, never
// the lossy 32-bit split a naive port would use.
type ConsumedNonce struct {
	ID         string `json:"id" gorm:"primaryKey"`
	ChainID    uint64 `json:"chainId" gorm:"not null;index:idx_nonces_unique,unique,priority:1"`
	Sponsor    string `json:"sponsor" gorm:"size:42;not null;index:idx_nonces_unique,unique,priority:2"`
	NonceHigh  string `json:"nonceHigh" gorm:"size:58;not null;index:idx_nonces_unique,unique,priority:3"` // decimal, up to 192 bits
	NonceLow   uint64 `json:"nonceLow" gorm:"not null;index:idx_nonces_unique,unique,priority:4"`
	ConsumedAt time.Time `json:"consumedAt"`
}

func (ConsumedNonce) TableName() string { return "consumed_nonces" }

// SupportedChain is the process-wide cache of per-chain allocator
// configuration fetched from the indexer, refreshed at startup and on
// administrative request.
type SupportedChain struct {
	ChainID               uint64 `json:"chainId" gorm:"primaryKey"`
	AllocatorID           string `json:"allocatorId" gorm:"not null"`
	FinalizationLagBlocks int    `json:"finalizationLagBlocks"`
	RefreshedAt           time.Time `json:"refreshedAt"`
}

func (SupportedChain) TableName() string { return "supported_chains" }
