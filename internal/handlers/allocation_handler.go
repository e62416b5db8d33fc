package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/the-compact/allocator/internal/allocation"
	"github.com/the-compact/allocator/internal/allocerr"
	"github.com/the-compact/allocator/internal/balance"
	"github.com/the-compact/allocator/internal/events"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/metrics"
	"github.com/the-compact/allocator/internal/nonce"
	"github.com/the-compact/allocator/internal/repository"
	"github.com/the-compact/allocator/internal/types"
	"github.com/the-compact/allocator/internal/validator"
)

// AllocationHandler exposes the compact submission and balance read
// routes §6 defines. It is a thin adapter: every real decision happens in
// the validator, allocation engine, balance engine, or store it wraps.
type AllocationHandler struct {
	engine        *allocation.Engine
	balanceEngine *balance.Engine
	nonceSvc      *nonce.Service
	store         *repository.Store
	indexerClient indexer.Client
	allocator     common.Address
}

func NewAllocationHandler(engine *allocation.Engine, balanceEngine *balance.Engine, nonceSvc *nonce.Service, store *repository.Store, indexerClient indexer.Client, allocator common.Address) *AllocationHandler {
	return &AllocationHandler{
		engine:        engine,
		balanceEngine: balanceEngine,
		nonceSvc:      nonceSvc,
		store:         store,
		indexerClient: indexerClient,
		allocator:     allocator,
	}
}

func writeError(c *gin.Context, err error) {
	class, status := allocerr.Classify(err)
	metrics.AllocationRejections.WithLabelValues(string(class)).Inc()

	var exhausted *nonce.ExhaustedError
	if errors.As(err, &exhausted) {
		metrics.NonceExhaustion.WithLabelValues("").Inc()
	}
	var replay *nonce.ReplayError
	if errors.As(err, &replay) {
		metrics.NonceReplaysRejected.WithLabelValues("").Inc()
	}

	c.JSON(status, gin.H{"error": err.Error(), "class": string(class)})
}

// commitmentDTO, elementDTO and compactDTO are the JSON wire shapes; they
// stay separate from types.CompactInput so the core packages never carry
// JSON tags.
type commitmentDTO struct {
	LockTag string `json:"lockTag" binding:"required"`
	Token   string `json:"token" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type elementDTO struct {
	Arbiter     string          `json:"arbiter" binding:"required"`
	ChainID     uint64          `json:"chainId" binding:"required"`
	MandateHash string          `json:"mandateHash,omitempty"`
	WitnessHash string          `json:"witnessHash,omitempty"`
	Commitments []commitmentDTO `json:"commitments" binding:"required"`
}

type compactDTO struct {
	Kind              string       `json:"kind" binding:"required"`
	Sponsor           string       `json:"sponsor" binding:"required"`
	Nonce             string       `json:"nonce"`
	Expires           int64        `json:"expires" binding:"required"`
	Elements          []elementDTO `json:"elements" binding:"required"`
	WitnessTypeString string       `json:"witnessTypeString,omitempty"`
}

func (dto compactDTO) toInput(sponsorSignature string) (types.CompactInput, error) {
	var kind types.CompactKind
	switch dto.Kind {
	case "single":
		kind = types.KindSingle
	case "batch":
		kind = types.KindBatch
	case "multichain":
		kind = types.KindMultichain
	default:
		return types.CompactInput{}, &validator.ValidationError{Class: "ValidationError", Message: "kind must be single, batch or multichain: " + dto.Kind}
	}

	elements := make([]types.ElementInput, len(dto.Elements))
	for i, el := range dto.Elements {
		commitments := make([]types.CommitmentInput, len(el.Commitments))
		for j, c := range el.Commitments {
			amount, err := validator.ParseUint256(c.Amount)
			if err != nil {
				return types.CompactInput{}, &validator.ValidationError{Class: "ValidationError", Message: "invalid commitment amount: " + err.Error()}
			}
			commitments[j] = types.CommitmentInput{LockTag: c.LockTag, Token: c.Token, Amount: amount}
		}
		elements[i] = types.ElementInput{
			Arbiter:     el.Arbiter,
			ChainID:     el.ChainID,
			MandateHash: el.MandateHash,
			WitnessHash: el.WitnessHash,
			Commitments: commitments,
		}
	}

	return types.CompactInput{
		Kind:              kind,
		Sponsor:           dto.Sponsor,
		Nonce:             dto.Nonce,
		Expires:           dto.Expires,
		Elements:          elements,
		WitnessTypeString: dto.WitnessTypeString,
		SponsorSignature:  sponsorSignature,
	}, nil
}

// SuggestedNonceHandler handles GET /suggested-nonce/:chainId/:account.
func (h *AllocationHandler) SuggestedNonceHandler(c *gin.Context) {
	chainID, err := validator.ParseChainID(c.Param("chainId"))
	if err != nil {
		writeError(c, err)
		return
	}
	account := c.Param("account")
	if !common.IsHexAddress(account) {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid account address: " + account})
		return
	}

	suggested, err := h.nonceSvc.Suggest(c.Request.Context(), common.HexToAddress(account), chainID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": common.BigToHash(suggested).Hex()})
}

// submitRequest is the POST /compact body.
type submitRequest struct {
	ChainID          string     `json:"chainId" binding:"required"`
	Compact          compactDTO `json:"compact" binding:"required"`
	SponsorSignature string     `json:"sponsorSignature"`
}

// SubmitCompactHandler handles POST /compact.
func (h *AllocationHandler) SubmitCompactHandler(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid request body: " + err.Error()})
		return
	}

	notarizedChainID, err := validator.ParseChainID(req.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}

	in, err := req.Compact.toInput(req.SponsorSignature)
	if err != nil {
		writeError(c, err)
		return
	}

	result := validator.Validate(in, notarizedChainID, time.Now())
	if !result.IsValid {
		writeError(c, result.Error)
		return
	}

	start := time.Now()
	compact, err := h.engine.Submit(c.Request.Context(), in, notarizedChainID)
	metrics.AllocationDuration.WithLabelValues(req.Compact.Kind).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.AllocationsAccepted.WithLabelValues(req.Compact.Kind).Inc()

	c.JSON(http.StatusOK, gin.H{
		"hash":      compact.ClaimHash,
		"signature": compact.Signature,
		"nonce":     compact.Nonce,
	})
}

// ListCompactsHandler handles GET /compacts/:account.
func (h *AllocationHandler) ListCompactsHandler(c *gin.Context) {
	account := c.Param("account")
	if !common.IsHexAddress(account) {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid account address: " + account})
		return
	}
	compacts, err := h.store.ListBySponsor(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, compacts)
}

// GetCompactHandler handles GET /compact/:chainId/:claimHash.
func (h *AllocationHandler) GetCompactHandler(c *gin.Context) {
	chainID, err := validator.ParseChainID(c.Param("chainId"))
	if err != nil {
		writeError(c, err)
		return
	}
	claimHash := c.Param("claimHash")

	compact, err := h.store.FindByChainAndClaimHash(c.Request.Context(), chainID, claimHash)
	if err != nil {
		writeError(c, err)
		return
	}
	if compact == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "compact not found"})
		return
	}
	c.JSON(http.StatusOK, compact)
}

// isAllocatableRequest is the POST /compact/is-allocatable body.
type isAllocatableRequest struct {
	ChainID string     `json:"chainId" binding:"required"`
	Compact compactDTO `json:"compact" binding:"required"`
}

// IsAllocatableHandler handles POST /compact/is-allocatable: runs the same
// validation and balance check Submit does, without signing or
// persisting.
func (h *AllocationHandler) IsAllocatableHandler(c *gin.Context) {
	var req isAllocatableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid request body: " + err.Error()})
		return
	}

	notarizedChainID, err := validator.ParseChainID(req.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}

	in, err := req.Compact.toInput("")
	if err != nil {
		writeError(c, err)
		return
	}

	result := validator.Validate(in, notarizedChainID, time.Now())
	if !result.IsValid {
		c.JSON(http.StatusOK, gin.H{"isAllocatable": false})
		return
	}

	isAllocatable, err := h.engine.CheckAllocatable(c.Request.Context(), in, notarizedChainID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"isAllocatable": isAllocatable}
	if isAllocatable {
		resp["validatedCompact"] = req.Compact
	}
	c.JSON(http.StatusOK, resp)
}

// GetBalanceHandler handles GET /balance/:chainId/:lockId/:account.
func (h *AllocationHandler) GetBalanceHandler(c *gin.Context) {
	chainID, err := validator.ParseChainID(c.Param("chainId"))
	if err != nil {
		writeError(c, err)
		return
	}
	lockID := c.Param("lockId")
	account := c.Param("account")
	if !common.IsHexAddress(account) {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid account address: " + account})
		return
	}

	snap, err := h.balanceEngine.Inspect(c.Request.Context(), h.allocator.Hex(), account, chainID, lockID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allocatableBalance":         snap.Allocatable.String(),
		"allocatedBalance":           snap.Outstanding.String(),
		"balanceAvailableToAllocate": snap.Capacity().String(),
		"withdrawalStatus":           snap.WithdrawalStatus,
	})
}

// ListBalancesHandler handles GET /balances/:account: every lock the
// indexer reports for this sponsor that is registered to this allocator.
func (h *AllocationHandler) ListBalancesHandler(c *gin.Context) {
	account := c.Param("account")
	if !common.IsHexAddress(account) {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid account address: " + account})
		return
	}

	locks, err := h.indexerClient.GetAllResourceLocks(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}

	type balanceEntry struct {
		ChainID                    uint64 `json:"chainId"`
		LockID                     string `json:"lockId"`
		AllocatableBalance         string `json:"allocatableBalance"`
		AllocatedBalance           string `json:"allocatedBalance"`
		BalanceAvailableToAllocate string `json:"balanceAvailableToAllocate"`
		WithdrawalStatus           int    `json:"withdrawalStatus"`
	}

	balances := make([]balanceEntry, 0, len(locks))
	for _, l := range locks {
		if !sameAddress(l.AllocatorAddress, h.allocator.Hex()) {
			continue
		}
		snap, err := h.balanceEngine.Inspect(c.Request.Context(), h.allocator.Hex(), account, l.ChainID, l.LockID)
		if err != nil {
			continue
		}
		balances = append(balances, balanceEntry{
			ChainID:                    l.ChainID,
			LockID:                     l.LockID,
			AllocatableBalance:         snap.Allocatable.String(),
			AllocatedBalance:           snap.Outstanding.String(),
			BalanceAvailableToAllocate: snap.Capacity().String(),
			WithdrawalStatus:           snap.WithdrawalStatus,
		})
	}

	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// GetCompactStatusHandler handles GET /compact/:chainId/:claimHash/status: a
// thin read of the compact's lifecycle state (expired/settled/active),
// derived from data the store and indexer already hold.
func (h *AllocationHandler) GetCompactStatusHandler(c *gin.Context) {
	chainID, err := validator.ParseChainID(c.Param("chainId"))
	if err != nil {
		writeError(c, err)
		return
	}
	claimHash := c.Param("claimHash")

	compact, err := h.store.FindByChainAndClaimHash(c.Request.Context(), chainID, claimHash)
	if err != nil {
		writeError(c, err)
		return
	}
	if compact == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "compact not found"})
		return
	}

	if compact.Expires <= time.Now().Unix() {
		c.JSON(http.StatusOK, gin.H{"status": "expired"})
		return
	}

	for _, el := range compact.Elements {
		for _, commitment := range el.Commitments {
			details, err := h.indexerClient.GetCompactDetails(c.Request.Context(), h.allocator.Hex(), compact.Sponsor, commitment.LockID, el.ChainID)
			if err != nil {
				continue
			}
			for _, claim := range details.Claims {
				if claim.ClaimHash == claimHash {
					c.JSON(http.StatusOK, gin.H{"status": "settled"})
					return
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// StreamHandler handles GET /stream/:account: a read-only websocket of
// allocation lifecycle events (compact creation, nonce consumption) for
// one sponsor.
func (h *AllocationHandler) StreamHandler(c *gin.Context) {
	account := c.Param("account")
	if !common.IsHexAddress(account) {
		writeError(c, &validator.ValidationError{Class: "ValidationError", Message: "invalid account address: " + account})
		return
	}
	events.ServeSponsorStream(c.Writer, c.Request, common.HexToAddress(account).Hex())
}
