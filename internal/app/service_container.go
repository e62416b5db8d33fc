package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/the-compact/allocator/internal/allocation"
	"github.com/the-compact/allocator/internal/balance"
	"github.com/the-compact/allocator/internal/config"
	"github.com/the-compact/allocator/internal/db"
	"github.com/the-compact/allocator/internal/events"
	"github.com/the-compact/allocator/internal/handlers"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/nonce"
	"github.com/the-compact/allocator/internal/repository"
	"github.com/the-compact/allocator/internal/signer"
	"github.com/the-compact/allocator/internal/sponsorauth"
)

// ServiceContainer wires every component Submit, is-allocatable, and the
// balance read routes depend on, grounded on this codebase's single
// container-with-init-phases pattern.
type ServiceContainer struct {
	DB *gorm.DB

	Store         *repository.Store
	IndexerClient indexer.Client
	ChainCache    *indexer.ChainCache
	Signer        signer.Signer

	BalanceEngine *balance.Engine
	NonceService  *nonce.Service
	Authorizer    *sponsorauth.Authorizer
	Engine        *allocation.Engine

	AllocationHandler *handlers.AllocationHandler
	AdminAuthHandler  *handlers.AdminAuthHandler
}

// NewServiceContainer builds every dependency from config.AppConfig, in
// the order the allocation engine needs them: signer, then indexer,
// then the engines that sit on top of both.
func NewServiceContainer() (*ServiceContainer, error) {
	if config.AppConfig == nil {
		return nil, fmt.Errorf("config.AppConfig is nil; call config.LoadConfig first")
	}
	cfg := config.AppConfig

	c := &ServiceContainer{DB: db.DB}

	sig, err := newSigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize signer: %w", err)
	}
	c.Signer = sig
	log.Printf("allocator address: %s", sig.Address().Hex())

	indexerTimeout := time.Duration(cfg.Indexer.Timeout) * time.Second
	c.IndexerClient = indexer.NewHTTPClient(cfg.Indexer.BaseURL, indexerTimeout)
	c.ChainCache = indexer.NewChainCache(c.IndexerClient, sig.Address().Hex())
	if err := c.ChainCache.Refresh(context.Background()); err != nil {
		log.Printf("initial chain cache refresh failed, starting with an empty cache: %v", err)
	}

	c.Store = repository.NewStore(c.DB)

	c.BalanceEngine = balance.NewEngine(c.IndexerClient, c.Store)
	c.NonceService = nonce.NewService(c.Store, c.IndexerClient)
	c.Authorizer = sponsorauth.NewAuthorizer(c.IndexerClient)
	c.Engine = allocation.NewEngine(c.BalanceEngine, c.NonceService, c.Authorizer, c.Signer, c.Store, c.ChainCache)

	c.AllocationHandler = handlers.NewAllocationHandler(c.Engine, c.BalanceEngine, c.NonceService, c.Store, c.IndexerClient, c.Signer.Address())
	c.AdminAuthHandler = handlers.NewAdminAuthHandler()

	if err := events.InitNATS(); err != nil {
		log.Printf("NATS initialization failed, lifecycle events disabled: %v", err)
	}

	return c, nil
}

func newSigner(cfg *config.Config) (signer.Signer, error) {
	if cfg.Signer.KMS.Enabled {
		timeout := time.Duration(cfg.Signer.KMS.Timeout) * time.Second
		return signer.NewKMSSigner(cfg.Signer.KMS.ServiceURL, cfg.Signer.KMS.AuthToken, cfg.Signer.KMS.KeyAlias, timeout)
	}
	envVar := cfg.Signer.PrivateKeyEnv
	if envVar == "" {
		envVar = "PRIVATE_KEY"
	}
	return signer.NewPrivateKeySigner(envVar, cfg.Signer.Address, cfg.Signer.SkipVerification)
}

// Cleanup releases resources held across the process lifetime.
func (c *ServiceContainer) Cleanup() {
	events.Close()
}
