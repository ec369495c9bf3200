// Package consensus dispatches ordered consensus items and accepted
// transaction items to the registered server modules. The ordering layer
// itself is external; this engine only guarantees that every callback runs
// inside one atomic database transaction so committed state moves in whole
// items across all guardians.
package consensus

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/types"
)

// Module is the capability interface every server module implements. The
// engine invokes the callbacks in the identical order on every guardian.
type Module interface {
	Kind() string
	ConsensusProposal(ctx context.Context) ([]types.WalletConsensusItem, error)
	ProcessConsensusItem(ctx context.Context, dbtx *gorm.DB, peer types.PeerID, item types.WalletConsensusItem) error
	ProcessInput(dbtx *gorm.DB, input types.WalletInput) (*types.InputMeta, error)
	ProcessOutput(dbtx *gorm.DB, outpoint types.OutPoint, output types.WalletOutput) (types.Amount, error)
	RegisterRoutes(r gin.IRouter)
}

type Engine struct {
	dm      *db.DatabaseManager
	modules map[string]Module
}

func NewEngine(dm *db.DatabaseManager, modules ...Module) *Engine {
	registry := make(map[string]Module, len(modules))
	for _, module := range modules {
		if _, ok := registry[module.Kind()]; ok {
			log.Fatalf("Duplicate module kind %q", module.Kind())
		}
		registry[module.Kind()] = module
	}

	return &Engine{dm: dm, modules: registry}
}

func (e *Engine) module(kind string) (Module, error) {
	module, ok := e.modules[kind]
	if !ok {
		return nil, fmt.Errorf("no module of kind %q", kind)
	}
	return module, nil
}

// RegisterRoutes mounts every module's API under its own kind prefix.
func (e *Engine) RegisterRoutes(r *gin.RouterGroup) {
	for kind, module := range e.modules {
		module.RegisterRoutes(r.Group("/" + kind))
	}
}

// Proposals collects the consensus items every module wants to submit this
// round, keyed by module kind.
func (e *Engine) Proposals(ctx context.Context) (map[string][]types.WalletConsensusItem, error) {
	proposals := make(map[string][]types.WalletConsensusItem, len(e.modules))
	for kind, module := range e.modules {
		items, err := module.ConsensusProposal(ctx)
		if err != nil {
			return nil, fmt.Errorf("module %q proposal failed: %v", kind, err)
		}
		proposals[kind] = items
	}

	return proposals, nil
}

// ApplyConsensusItem applies one delivered item inside its own database
// transaction. A rejected item rolls back completely; the error is local
// and never halts the stream.
func (e *Engine) ApplyConsensusItem(ctx context.Context, kind string, peer types.PeerID, item types.WalletConsensusItem) error {
	module, err := e.module(kind)
	if err != nil {
		return err
	}

	return e.dm.GetWalletDB().WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		return module.ProcessConsensusItem(ctx, dbtx, peer, item)
	})
}

// ApplyInput processes an accepted client input item atomically.
func (e *Engine) ApplyInput(ctx context.Context, kind string, input types.WalletInput) (*types.InputMeta, error) {
	module, err := e.module(kind)
	if err != nil {
		return nil, err
	}

	var meta *types.InputMeta
	err = e.dm.GetWalletDB().WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		meta, err = module.ProcessInput(dbtx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

// ApplyOutput processes an accepted client output item atomically.
func (e *Engine) ApplyOutput(ctx context.Context, kind string, outpoint types.OutPoint, output types.WalletOutput) (types.Amount, error) {
	module, err := e.module(kind)
	if err != nil {
		return 0, err
	}

	var amount types.Amount
	err = e.dm.GetWalletDB().WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		amount, err = module.ProcessOutput(dbtx, outpoint, output)
		return err
	})
	if err != nil {
		return 0, err
	}

	return amount, nil
}
