package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/config"
	"github.com/fedivault/guardian/internal/consensus"
	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/http"
	"github.com/fedivault/guardian/internal/wallet"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	Wallet          *wallet.Wallet
	Engine          *consensus.Engine
	StatusPoller    *btc.StatusPoller
	HTTPServer      *http.HTTPServer
}

func NewApplication() *Application {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	config.InitConfig()

	btcClient := btc.NewBTCClient()
	rpcService := btc.NewBTCRPCService(btcClient)
	feeFetcher := btc.NewMemPoolFeeFetcher(btcClient)

	dbm := db.NewDatabaseManager()
	walletModule := wallet.NewWallet(wallet.ParamsFromConfig(), dbm, rpcService, feeFetcher)
	engine := consensus.NewEngine(dbm, walletModule)
	poller := btc.NewStatusPoller(rpcService, feeFetcher, config.AppConfig.BTCNetworkType, config.AppConfig.BTCPollInterval)
	httpServer := http.NewHTTPServer(engine, poller)

	return &Application{
		DatabaseManager: dbm,
		Wallet:          walletModule,
		Engine:          engine,
		StatusPoller:    poller,
		HTTPServer:      httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Wallet.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.StatusPoller.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
