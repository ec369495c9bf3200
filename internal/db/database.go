package db

import (
	"os"
	"path/filepath"

	"github.com/fedivault/guardian/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseManager owns the replicated wallet database. Every guardian holds
// an identical copy; convergence follows from applying consensus items in
// identical order with deterministic logic, never from synchronization.
type DatabaseManager struct {
	walletDb *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB(config.AppConfig.DbDir)
	return dm
}

// NewDatabaseManagerAt opens the wallet database in the given directory,
// bypassing the global config. Used by tests.
func NewDatabaseManagerAt(dbDir string) *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB(dbDir)
	return dm
}

func (dm *DatabaseManager) initDB(dbDir string) {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	walletPath := filepath.Join(dbDir, "wallet.db")
	walletDb, err := gorm.Open(sqlite.Open(walletPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to wallet database: %v", err)
	}
	dm.walletDb = walletDb
	log.Debugf("Wallet database connected successfully, path: %s", walletPath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.walletDb.AutoMigrate(
		&Deposit{},
		&SpentDeposit{},
		&BlockCountVote{},
		&FeeRateVote{},
		&TxInfo{},
		&TxInfoIndex{},
		&UnsignedTx{},
		&TxSignature{},
		&UnconfirmedTx{},
		&FederationWallet{},
	); err != nil {
		log.Fatalf("Failed to migrate wallet database: %v", err)
	}
}
