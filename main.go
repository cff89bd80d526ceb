package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"

	appcfg "github.com/ahmadzakiakmal/agroforward/config"

	"github.com/ahmadzakiakmal/agroforward/client"
	"github.com/ahmadzakiakmal/agroforward/forecast"
	"github.com/ahmadzakiakmal/agroforward/keyring"
	"github.com/ahmadzakiakmal/agroforward/ledger"
	"github.com/ahmadzakiakmal/agroforward/mirror"
	"github.com/ahmadzakiakmal/agroforward/reconciler"
	"github.com/ahmadzakiakmal/agroforward/repository"
	"github.com/ahmadzakiakmal/agroforward/sequencer"
	"github.com/ahmadzakiakmal/agroforward/server"
	"github.com/ahmadzakiakmal/agroforward/service"
	"github.com/ahmadzakiakmal/agroforward/srvreg"
)

var (
	homeDir  string
	httpPort string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/agroforward-node", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides HTTP_PORT)")
}

func main() {
	// Parse command line flags
	flag.Parse()

	appConfig := appcfg.LoadConfig()
	if httpPort != "" {
		appConfig.HTTPPort = httpPort
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("=== Starting AgroForward Contract Node ===")
	log.Printf("Home Directory: %s", homeDir)
	log.Printf("HTTP Port: %s", appConfig.HTTPPort)

	// Load CometBFT configuration
	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.cometbft")
	}
	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := config.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	// Initialize Badger DB for ledger program state
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening badger database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing badger database: %v", err)
		}
	}()

	// Create logger
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}

	// Create ABCI Application
	abciApp := ledger.NewApplication(db, logger)

	// Load private validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// Load node key for P2P networking
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("Failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(abciApp),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating CometBFT node: %v", err)
	}

	// Start CometBFT node
	logger.Info("Starting CometBFT node...")
	err = node.Start()
	if err != nil {
		log.Fatalf("Starting CometBFT node: %v", err)
	}
	defer func() {
		logger.Info("Stopping CometBFT node...")
		node.Stop()
		node.Wait()
	}()

	// Ledger client over the in-process RPC connection
	rpcClient := cmtrpc.New(node)
	ledgerClient := client.New(rpcClient)

	// Mirror store: postgres when configured, in-memory otherwise
	var store mirror.Store
	if appConfig.UseDatabase {
		pgStore := repository.NewStore()
		logger.Info("Connecting to mirror database", "host", appConfig.DatabaseHost)
		if err := pgStore.ConnectDB(appConfig.GetDSN()); err != nil {
			log.Fatalf("Connecting mirror database: %v", err)
		}
		store = pgStore
	} else {
		store = mirror.NewMemoryStore()
	}

	// Event reconciler keeps the mirror caught up with committed blocks
	rec := reconciler.New(ledgerClient, store, appConfig.ReconcileInterval, logger)
	reconcileCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	go rec.Run(reconcileCtx)

	// Signing keys for the accounts this gateway operates
	keys, err := keyring.LoadOrCreate(appConfig.KeyringPath, appConfig.DevAccounts)
	if err != nil {
		log.Fatalf("Loading keyring: %v", err)
	}
	for _, addr := range keys.Addresses() {
		logger.Info("Keyring account", "address", addr)
	}

	// Advisory price model
	model, err := forecast.Load(appConfig.PriceDataPath)
	if err != nil {
		log.Fatalf("Loading price history: %v", err)
	}
	logger.Info("Price history loaded", "commodities", len(model.Commodities()))

	// Contract service and HTTP gateway
	seq := sequencer.New(ledgerClient)
	contractService := service.New(ledgerClient, seq, rec, store, keys, appConfig.ConfirmTimeout, logger)

	serviceRegistry := srvreg.NewServiceRegistry(contractService, model, logger)
	serviceRegistry.RegisterDefaultServices()

	webserver := server.NewWebServer(appConfig.HTTPPort, serviceRegistry, logger)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	logger.Info("=== AgroForward Node Successfully Started ===")
	logger.Info("HTTP API", "url", fmt.Sprintf("http://localhost:%s", appConfig.HTTPPort))
	logger.Info("CometBFT RPC", "url", fmt.Sprintf("http://localhost:%s", extractPortFromAddress(config.RPC.ListenAddress)))
	logger.Info("Node ID", "id", string(node.NodeInfo().ID()))

	// Wait for interrupt signal to gracefully shut down
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Received shutdown signal, shutting down gracefully...")
	stopReconciler()

	// Create deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown the web server
	err = webserver.Shutdown(ctx)
	if err != nil {
		logger.Error("Error shutting down HTTP web server", "err", err)
	}
	logger.Info("AgroForward node gracefully stopped")
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}
