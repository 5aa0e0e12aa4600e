package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opd-ai/btcdonate/deriver"
	"github.com/opd-ai/btcdonate/oracle"
	"github.com/opd-ai/btcdonate/probe"
	"github.com/opd-ai/btcdonate/scheduler"
	"github.com/opd-ai/btcdonate/store"
)

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// noopScheduler never actually fires tasks; orchestrator tests exercise
// GenerateAddress/CheckPayment/MarkExpired/CleanupExpired in isolation
// from the Monitor's own recheck loop, which monitor_test.go covers.
type noopScheduler struct{}

func (noopScheduler) RunAfter(d time.Duration, task func()) scheduler.JobID { return "noop" }
func (noopScheduler) RunHourly(task func()) scheduler.JobID                 { return "noop" }
func (noopScheduler) Stop()                                                {}

// newFixedPriceOracle lets tests pin the exchange rate instead of depending
// on network-reachable price sources.
func newFixedPriceOracle(t *testing.T, price float64) *oracle.Oracle {
	t.Helper()
	return oracle.NewWithSources(discardLogger(), oracle.FixedSource("test", price))
}

func newTestOrchestrator(t *testing.T, masterKey string, network probe.Network) *Orchestrator {
	t.Helper()
	o, err := New(Deps{
		Store:     store.NewMemStore(),
		Oracle:    newFixedPriceOracle(t, 50000),
		Prober:    probe.New(network, discardLogger()),
		Scheduler: noopScheduler{},
		MasterKey: masterKey,
		Network:   network,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

// buildTestVprv assembles a syntactically valid base58check-encoded BIP84
// testnet extended private key from arbitrary fixed bytes, so tests don't
// depend on a real wallet-derived fixture.
func buildTestVprv() string {
	const versionVprv uint32 = 0x045F18BC

	payload := make([]byte, 78)
	binary.BigEndian.PutUint32(payload[0:4], versionVprv)
	payload[4] = 0 // depth
	// bytes 5:9 parent fingerprint, 9:13 child number stay zero
	for i := 0; i < 32; i++ {
		payload[13+i] = byte(i + 1) // chain code
	}
	payload[45] = 0x00 // private key prefix
	for i := 0; i < 32; i++ {
		payload[46+i] = byte(200 - i) // key data
	}

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(payload, second[:4]...)
	return deriver.Base58Encode(full)
}

var testVprv = buildTestVprv()

func TestGenerateAddressRejectsOutOfRangeAmount(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	if _, err := o.GenerateAddress(context.Background(), 0.5, "s1", store.Metadata{}); err == nil {
		t.Fatal("expected error for amount below minimum")
	}
	if _, err := o.GenerateAddress(context.Background(), 100001, "s1", store.Metadata{}); err == nil {
		t.Fatal("expected error for amount above maximum")
	}
}

func TestGenerateAddressRejectsOverlongMetadata(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	longName := make([]byte, 51)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := o.GenerateAddress(context.Background(), 10, "s1", store.Metadata{PlayerName: string(longName)})
	if err == nil {
		t.Fatal("expected error for player_name exceeding 50 characters")
	}
}

func TestMarkExpiredDelegatesToStore(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	// MarkExpired on a never-created address is a documented no-op, not
	// an error, matching store.MarkExpired's precondition semantics.
	if err := o.MarkExpired("tb1qnotcreated", "s1"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestCleanupExpiredReturnsZeroCountsOnEmptyStore(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	result, err := o.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if result.ExpiredInitialized != 0 || result.DeletedConfirmed != 0 || result.DeletedExpired != 0 {
		t.Fatalf("expected all-zero counts on an empty store, got %+v", result)
	}
}

func TestCheckPaymentRejectsMalformedAddress(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	_, err := o.CheckPayment(context.Background(), "not-an-address", "s1")
	if err == nil {
		t.Fatal("expected validation error for malformed address")
	}
	oerr, ok := err.(*Error)
	if !ok || oerr.Code != CodeValidation {
		t.Fatalf("expected CodeValidation, got %v", err)
	}
}

func TestCheckPaymentRejectsNeverCreatedAddress(t *testing.T) {
	o := newTestOrchestrator(t, testVprv, probe.Testnet)
	addr, err := deriver.Derive(testVprv, 0, deriver.Testnet)
	if err != nil {
		t.Fatalf("failed to derive a test address: %v", err)
	}

	_, err = o.CheckPayment(context.Background(), addr, "s1")
	oerr, ok := err.(*Error)
	if !ok || oerr.Code != CodeValidation {
		t.Fatalf("expected CodeValidation for a never-created address, got %v", err)
	}
}
