package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

func TestAppendAssignsSequenceAndChain(t *testing.T) {
	l := NewLog()
	ctx := context.Background()

	e1 := l.Append(ctx, Event{Kind: KindCustodianRegistered, CustodianID: "qc-1", Authority: domain.AuthorityFull, At: time.Unix(100, 0).UTC()})
	e2 := l.Append(ctx, Event{Kind: KindStatusChanged, CustodianID: "qc-1", Old: "ACTIVE", New: "MINTING_PAUSED", Authority: domain.AuthoritySelf, At: time.Unix(200, 0).UTC()})

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("unexpected sequence numbers: %d, %d", e1.Seq, e2.Seq)
	}
	if e1.PrevSum != "" {
		t.Fatalf("genesis event must have empty prev sum")
	}
	if e2.PrevSum != e1.Sum {
		t.Fatalf("chain broken: prev=%s want=%s", e2.PrevSum, e1.Sum)
	}
	if e1.ID == "" || e1.ID == e2.ID {
		t.Fatalf("event ids must be assigned and unique")
	}
	if bad := l.Verify(); bad != 0 {
		t.Fatalf("expected intact chain, first bad seq %d", bad)
	}
}

func TestEventsFiltersByCustodian(t *testing.T) {
	l := NewLog()
	ctx := context.Background()
	l.Append(ctx, Event{Kind: KindCustodianRegistered, CustodianID: "qc-1"})
	l.Append(ctx, Event{Kind: KindCustodianRegistered, CustodianID: "qc-2"})
	l.Append(ctx, Event{Kind: KindDefaultRecorded, CustodianID: "qc-1"})

	if got := len(l.Events("qc-1")); got != 2 {
		t.Fatalf("expected 2 events for qc-1, got %d", got)
	}
	if got := len(l.Events("")); got != 3 {
		t.Fatalf("expected 3 events total, got %d", got)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Record(ctx context.Context, e Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestFailingSinkDoesNotBlockAppend(t *testing.T) {
	sink := &failingSink{}
	l := NewLog(sink)
	e := l.Append(context.Background(), Event{Kind: KindMintRecorded, CustodianID: "qc-1", Amount: 5000})
	if e.Seq != 1 {
		t.Fatalf("append must succeed despite sink failure")
	}
	if sink.calls != 1 {
		t.Fatalf("sink must still be attempted, got %d calls", sink.calls)
	}
}
