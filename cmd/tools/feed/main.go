package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/pkg/sys"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/ops"
	"main/internal/schema"
)

// feed publishes world-state facts (prices, account, positions) from the
// paper broker and can inject test trade orders, standing in for the
// market-data and decision producers during local runs.
func main() {
	if err := run(); err != nil {
		log.Printf("feed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols to publish (default: all configured)")
	interval := flag.Duration("interval", 5*time.Second, "Delay between fact publications")
	rounds := flag.Int("rounds", 0, "Number of publication rounds (0=until shutdown)")

	orderSymbol := flag.String("order-symbol", "", "Inject a test trade order for this symbol")
	orderSide := flag.String("order-side", "BUY", "Trade order side: BUY|SELL")
	orderQty := flag.Int64("order-qty", 1, "Trade order quantity")
	orderCount := flag.Int("order-count", 1, "Number of trade orders to inject")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		for symbol := range loaded.Paper.Prices {
			symbols = append(symbols, symbol)
		}
	}
	if len(symbols) == 0 && *orderSymbol == "" {
		return fmt.Errorf("no symbols configured; use -symbols or the paper config")
	}

	client := bus.NewClient(bus.ClientConfig{
		PubAddr: loaded.PubAddr,
		SubAddr: loaded.SubAddr,
	})
	defer client.Close()

	paper := broker.NewPaper(loaded.Paper)
	ctx := context.Background()

	if *orderSymbol != "" {
		if err := injectOrders(client, *orderSymbol, *orderSide, *orderQty, *orderCount); err != nil {
			return err
		}
	}

	round := 0
	for {
		if err := publishFacts(ctx, client, paper, symbols); err != nil {
			log.Printf("feed: publish round failed: %v", err)
		}
		publishHeartbeat(client)
		round++
		if *rounds > 0 && round >= *rounds {
			return nil
		}

		timer := time.NewTimer(*interval)
		select {
		case <-sys.Shutdown():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func publishFacts(ctx context.Context, client *bus.Client, paper *broker.Paper, symbols []string) error {
	for _, symbol := range symbols {
		quote, err := paper.Quote(ctx, symbol)
		if err != nil {
			return err
		}
		if err := encodeAndPublish(client, schema.PriceTopic(symbol), quote); err != nil {
			return err
		}

		position, err := paper.Position(ctx, symbol)
		if err != nil {
			return err
		}
		if err := encodeAndPublish(client, schema.PositionTopic(symbol), position); err != nil {
			return err
		}
	}

	account, err := paper.Account(ctx)
	if err != nil {
		return err
	}
	return encodeAndPublish(client, schema.TopicAccountBalance, account)
}

func publishHeartbeat(client *bus.Client) {
	hb := schema.Heartbeat{
		Service: "feed",
		PID:     os.Getpid(),
		TsUTC:   time.Now().UTC().Unix(),
	}
	if err := encodeAndPublish(client, schema.HeartbeatTopic(hb.Service), hb); err != nil {
		log.Printf("feed: heartbeat publish failed: %v", err)
	}
}

type encoder interface {
	Encode() ([]byte, error)
}

func encodeAndPublish(client *bus.Client, topic string, p encoder) error {
	payload, err := p.Encode()
	if err != nil {
		return err
	}
	return client.Publish(topic, payload)
}

// injectOrders publishes test trade orders, each with a fresh UUID key so
// the executor books them as distinct decisions.
func injectOrders(client *bus.Client, symbol, side string, qty int64, count int) error {
	for i := 0; i < count; i++ {
		order := schema.TradeOrder{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          schema.Side(strings.ToUpper(side)),
			Quantity:      qty,
			IsTest:        true,
			TsUTC:         time.Now().UTC().Unix(),
		}
		if err := encodeAndPublish(client, schema.TopicTradeOrderCreate, order); err != nil {
			return err
		}
		log.Printf("feed: trade order %s %s %d %s published", order.ClientOrderID, order.Side, order.Quantity, order.Symbol)
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
