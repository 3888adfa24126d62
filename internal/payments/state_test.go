package payments

import "testing"

func TestSplitFee(t *testing.T) {
	cases := []struct {
		amount, fee, net uint64
	}{
		{amount: 1_000_000, fee: 50_000, net: 950_000},
		{amount: 19, fee: 0, net: 19},
		{amount: 20, fee: 1, net: 19},
		{amount: 39, fee: 1, net: 38},
		{amount: 1, fee: 0, net: 1},
		{amount: ^uint64(0), fee: ^uint64(0) / 20, net: ^uint64(0) - ^uint64(0)/20},
	}
	for _, tc := range cases {
		fee, net := SplitFee(tc.amount)
		if fee != tc.fee || net != tc.net {
			t.Fatalf("SplitFee(%d) = (%d, %d), want (%d, %d)", tc.amount, fee, net, tc.fee, tc.net)
		}
		if fee+net != tc.amount {
			t.Fatalf("SplitFee(%d) 拆分后金额不守恒", tc.amount)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]State{
		{StateInvoiceCreated, StatePending},
		{StateInvoiceCreated, StateExpired},
		{StatePending, StateExecuting},
		{StateExecuting, StateCompleted},
		{StateExecuting, StateFailed},
		{StateExecuting, StateRefunded},
		{StateCompleted, StateReceiptMinted},
		{StateCompleted, StateClaimed},
		{StateReceiptMinted, StateClaimed},
		{StateFailed, StateRefunded},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s 应被允许", edge[0], edge[1])
		}
	}

	rejected := [][2]State{
		{StateCompleted, StatePending},
		{StatePending, StateCompleted},
		{StateClaimed, StateRefunded},
		{StateRefunded, StateClaimed},
		{StateExpired, StatePending},
		{StatePending, StateClaimed},
	}
	for _, edge := range rejected {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s 不应被允许", edge[0], edge[1])
		}
	}

	for _, terminal := range []State{StateClaimed, StateRefunded, StateExpired} {
		if !terminal.Terminal() {
			t.Fatalf("%s 应为终态", terminal)
		}
	}
	if State("bogus").Valid() {
		t.Fatalf("未知状态不应有效")
	}
}
