package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"SynapsePay/internal/api"
	"SynapsePay/internal/auth"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/payments"
	"SynapsePay/internal/registry"
	"SynapsePay/internal/scheduler"
	"SynapsePay/sdk/go/synapsepay"
)

const (
	creator = "creator-wallet"
	payer   = "payer-wallet"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	book := ledger.NewMemoryLedger()
	if err := book.Deposit(ctx, payer, 5_000_000); err != nil {
		panic(err)
	}
	reg := registry.NewService(registry.NewMemoryStore())
	pay := payments.NewService(payments.NewMemoryStore(), payments.WithLedger(book), payments.WithEarningsRecorder(reg))
	sched := scheduler.NewService(scheduler.NewMemoryStore(), reg,
		scheduler.WithLedger(book), scheduler.WithRuns(pay))
	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeHeader})
	if err != nil {
		panic(err)
	}
	server, err := api.NewServer(":0", api.Services{Registry: reg, Payments: pay, Scheduler: sched, Ledger: book, Auth: authSvc})
	if err != nil {
		panic(err)
	}

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	seller := newClient(srv, creator)
	buyer := newClient(srv, payer)

	agent, err := seller.RegisterAgent(ctx, synapsepay.RegisterAgent{
		AgentID: "translator", MetadataCID: "QmTranslator", Price: 1_000_000, Category: "ai",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered agent %s (price=%d)\n", agent.AgentID, agent.Price)

	admin := newClient(srv, "admin-wallet")
	if _, err := admin.InitializePlatform(ctx); err != nil {
		panic(err)
	}

	inv, err := buyer.CreateInvoice(ctx, synapsepay.CreateInvoice{
		Recipient: creator, AgentID: agent.AgentID, Amount: agent.Price, ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		panic(err)
	}
	p, err := buyer.SettleInvoice(ctx, inv.ID, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("settled invoice %s into payment %s (escrow=%d fee=%d)\n", inv.ID, p.ID, p.Amount, p.PlatformFee)

	if _, err := buyer.VerifyPayment(ctx, p.ID); err != nil {
		panic(err)
	}
	if _, err := seller.CompleteTask(ctx, p.ID, "QmResult"); err != nil {
		panic(err)
	}
	receipt, err := buyer.MintReceipt(ctx, p.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("minted receipt %s for result %s\n", receipt.ID, receipt.ResultCID)

	if p, err = seller.ClaimPayment(ctx, p.ID); err != nil {
		panic(err)
	}
	balance, err := seller.Balance(ctx, creator)
	if err != nil {
		panic(err)
	}
	fmt.Printf("payment %s is %s, creator balance=%d\n", p.ID, p.State, balance)

	fees, err := admin.WithdrawFees(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("admin withdrew %d in platform fees\n", fees)
}

func newClient(srv *httptest.Server, wallet string) *synapsepay.Client {
	client, err := synapsepay.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetCaller(wallet)
	return client
}
