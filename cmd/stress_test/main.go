// Concurrent-respond driver: creates one offer and fires N accept calls at
// it, checking that exactly one transfer happens. Needs live Redis and MySQL
// with schema.sql applied.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lmarin/card-trade/internal/adapter/storage"
	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/core/service"
)

const (
	redisAddr      = "localhost:6379"
	mysqlDSN       = "root:root@tcp(localhost:3306)/cardtrade?parseTime=true"
	proposerID     = "stress-proposer"
	counterpartyID = "stress-counterparty"
	itemID         = "stress-card"
	stock          = 5
	totalResponses = 50
)

func main() {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	ledger := storage.NewRedisLedger(rdb)
	transfers := storage.NewRedisTransferLog(rdb)
	store := storage.NewMySQLStore(db)

	// Reset inventory for both parties.
	if err := ledger.SetQuantity(ctx, counterpartyID, itemID, stock); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}
	if err := ledger.SetQuantity(ctx, proposerID, itemID, 0); err != nil {
		log.Fatalf("failed to reset proposer stock: %v", err)
	}

	logger := zap.NewNop()
	trades := service.NewTradeService(store, ledger, transfers, logger)

	key, err := trades.CreateOffer(ctx, proposerID, counterpartyID,
		[]domain.ItemLine{{ItemID: itemID, Quantity: stock}}, 12.50, domain.PriceModeManual)
	if err != nil {
		log.Fatalf("failed to create offer: %v", err)
	}

	var accepted, notPending, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalResponses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trades.Respond(ctx, key, counterpartyID, service.ActionAccept)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, service.ErrNotPending):
				notPending.Add(1)
			default:
				other.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	proposerQty, _ := ledger.Quantity(ctx, proposerID, itemID)
	counterpartyQty, _ := ledger.Quantity(ctx, counterpartyID, itemID)

	fmt.Printf("responses: %d in %v\n", totalResponses, elapsed)
	fmt.Printf("accepted: %d, not pending: %d, other: %d\n", accepted.Load(), notPending.Load(), other.Load())
	fmt.Printf("proposer holds %d, counterparty holds %d\n", proposerQty, counterpartyQty)

	if accepted.Load() != 1 || proposerQty != stock || counterpartyQty != 0 {
		log.Fatal("FAIL: expected exactly one accepted response and a single full transfer")
	}
	fmt.Println("OK: exactly one response transferred the items")
}
