package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/ipfs"
	"escrowflow/registry"
	"escrowflow/session"
	"escrowflow/simledger"
	"escrowflow/view"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	storeURL := os.Getenv("IPFS_URL")
	if storeURL == "" {
		storeURL = "http://localhost:5001"
	}

	// in-process ledger; a node-backed gateway slots in behind the same
	// interfaces once one is configured
	gateway := simledger.New()
	arbitratorAddr := os.Getenv("ARBITRATOR_ADDRESS")
	if arbitratorAddr == "" {
		log.Fatal("ARBITRATOR_ADDRESS is required")
	}
	if !common.IsHexAddress(arbitratorAddr) {
		log.Fatalf("ARBITRATOR_ADDRESS %q is not a hex address", arbitratorAddr)
	}
	price := big.NewInt(1_000_000_000_000_000) // 0.001 ether default
	if raw := os.Getenv("ARBITRATION_PRICE_WEI"); raw != "" {
		var ok bool
		if price, ok = new(big.Int).SetString(raw, 10); !ok {
			log.Fatalf("ARBITRATION_PRICE_WEI %q is not a decimal integer", raw)
		}
	}
	arbitrator := common.HexToAddress(arbitratorAddr)
	gateway.RegisterArbitrator(arbitrator, arbitrator, price)

	binding := escrow.NewBinding(gateway, true)
	coordinator := escrow.NewCoordinator(gateway, gateway, binding, ipfs.NewClient(storeURL))

	server := &Server{
		sessionService:  session.NewService(session.NewRepository(pool), jwtSecret),
		escrowService:   coordinator,
		registryService: registry.NewService(registry.NewRepository(pool)),
		snapshots:       view.NewReconciler(binding),
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
