// Package repository is the persistence boundary for compacts, their
// elements and commitments, and consumed nonces. It implements the
// nonce.Store and balance.Store interfaces the core services depend on,
// grounded on this codebase's GORM transaction idiom: db.Begin(),
// tx.Create(...), tx.Commit()/tx.Rollback().
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/the-compact/allocator/internal/allocerr"
	"github.com/the-compact/allocator/internal/metrics"
	"github.com/the-compact/allocator/internal/models"
)

// pgUniqueViolation is the PostgreSQL error code for a unique-constraint
// violation; see https://www.postgresql.org/docs/current/errcodes-appendix.html.
const pgUniqueViolation = "23505"

// asDuplicate maps a postgres unique-violation on the (chainId, claimHash)
// index to allocerr.DuplicateError so the HTTP boundary returns 409
// instead of a bare 500.
func asDuplicate(err error, claimHash string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return &allocerr.DuplicateError{ClaimHash: claimHash}
	}
	return err
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CompactRecord bundles the root Compact with its elements and
// commitments for a single atomic insert.
type CompactRecord struct {
	Compact  models.Compact
	Elements []models.Element
}

// InsertCompact persists a compact and its elements/commitments in one
// transaction, assigning surrogate IDs. A duplicate (chainId, claimHash)
// is surfaced as a plain error; callers classify it via allocerr.
func (s *Store) InsertCompact(ctx context.Context, compact *models.Compact) error {
	compact.ID = uuid.NewString()
	for i := range compact.Elements {
		compact.Elements[i].ID = uuid.NewString()
		compact.Elements[i].CompactID = compact.ID
		compact.Elements[i].ElementIndex = i
		for j := range compact.Elements[i].Commitments {
			compact.Elements[i].Commitments[j].ID = uuid.NewString()
			compact.Elements[i].Commitments[j].ElementID = compact.Elements[i].ID
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	if err := tx.Create(compact).Error; err != nil {
		tx.Rollback()
		return asDuplicate(err, compact.ClaimHash)
	}
	return tx.Commit().Error
}

// InsertCompactAndConsumeNonce persists the compact and records its
// nonce as spent in one transaction, so a crash between the two writes
// can never leave a usable compact with a reusable nonce.
func (s *Store) InsertCompactAndConsumeNonce(ctx context.Context, compact *models.Compact, chainID uint64, sponsor string, nonceHigh string, nonceLow uint64) error {
	compact.ID = uuid.NewString()
	for i := range compact.Elements {
		compact.Elements[i].ID = uuid.NewString()
		compact.Elements[i].CompactID = compact.ID
		compact.Elements[i].ElementIndex = i
		for j := range compact.Elements[i].Commitments {
			compact.Elements[i].Commitments[j].ID = uuid.NewString()
			compact.Elements[i].Commitments[j].ElementID = compact.Elements[i].ID
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	if err := tx.Create(compact).Error; err != nil {
		tx.Rollback()
		return asDuplicate(err, compact.ClaimHash)
	}
	nonceRecord := models.ConsumedNonce{
		ID:         uuid.NewString(),
		ChainID:    chainID,
		Sponsor:    sponsor,
		NonceHigh:  nonceHigh,
		NonceLow:   nonceLow,
		ConsumedAt: time.Now(),
	}
	if err := tx.Create(&nonceRecord).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("consume nonce: %w", err)
	}
	return tx.Commit().Error
}

// FindByChainAndClaimHash looks up a previously recorded compact, used
// by the single-compact lookup route and by the status lookup route.
func (s *Store) FindByChainAndClaimHash(ctx context.Context, chainID uint64, claimHash string) (*models.Compact, error) {
	var compact models.Compact
	err := s.db.WithContext(ctx).
		Preload("Elements.Commitments").
		Where("chain_id = ? AND claim_hash = ?", chainID, claimHash).
		First(&compact).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &compact, nil
}

// ListBySponsor returns every compact a sponsor has submitted, newest
// first.
func (s *Store) ListBySponsor(ctx context.Context, sponsor string) ([]models.Compact, error) {
	var compacts []models.Compact
	err := s.db.WithContext(ctx).
		Preload("Elements.Commitments").
		Where("sponsor = ?", sponsor).
		Order("created_at DESC").
		Find(&compacts).Error
	return compacts, err
}

// IsConsumedLocally implements nonce.Store.
func (s *Store) IsConsumedLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ConsumedNonce{}).
		Where("chain_id = ? AND sponsor = ? AND nonce_high = ? AND nonce_low = ?", chainID, sponsor, high, low).
		Count(&count).Error
	return count > 0, err
}

// ConsumeLocally implements nonce.Store. A unique-constraint violation
// on the (chainId, sponsor, nonceHigh, nonceLow) index is treated as the
// replay signal by the caller.
func (s *Store) ConsumeLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) error {
	record := models.ConsumedNonce{
		ID:         uuid.NewString(),
		ChainID:    chainID,
		Sponsor:    sponsor,
		NonceHigh:  high,
		NonceLow:   low,
		ConsumedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// SumOutstanding implements balance.Store: the sum of commitment amounts
// for (sponsor, chainId, lockId) across compacts that have not expired
// and whose claim has not already settled on-chain.
func (s *Store) SumOutstanding(ctx context.Context, sponsor string, chainID uint64, lockID string, now time.Time, settledClaimHashes map[string]bool) (*big.Int, error) {
	type row struct {
		ClaimHash string
		Amount    string
	}
	var rows []row
	start := time.Now()
	err := s.db.WithContext(ctx).
		Table("commitments").
		Select("compacts.claim_hash AS claim_hash, commitments.amount AS amount").
		Joins("JOIN elements ON elements.id = commitments.element_id").
		Joins("JOIN compacts ON compacts.id = elements.compact_id").
		Where("compacts.sponsor = ? AND elements.chain_id = ? AND commitments.lock_id = ? AND compacts.expires > ?", sponsor, chainID, lockID, now.Unix()).
		Scan(&rows).Error
	metrics.DBQueryDuration.WithLabelValues("sum_outstanding").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("sum outstanding commitments: %w", err)
	}

	total := new(big.Int)
	for _, r := range rows {
		if settledClaimHashes[r.ClaimHash] {
			continue
		}
		amount, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("stored commitment amount is not decimal: %s", r.Amount)
		}
		total.Add(total, amount)
	}
	return total, nil
}

// UpsertSupportedChains saves a chain cache snapshot, stamping each row's
// RefreshedAt. No route or startup path calls it or reads the saved rows
// back; the in-memory chain cache is filled from the indexer.
func (s *Store) UpsertSupportedChains(ctx context.Context, chains []models.SupportedChain) error {
	if len(chains) == 0 {
		return nil
	}
	for i := range chains {
		chains[i].RefreshedAt = time.Now()
	}
	return s.db.WithContext(ctx).Save(&chains).Error
}
