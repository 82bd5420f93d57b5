package fixture

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/repo"
)

func TestLoadSpecIRS(t *testing.T) {
	spec, err := LoadSpec(filepath.Join("testdata", "irs.yaml"))
	if err != nil {
		t.Fatalf("LoadSpec() err=%v", err)
	}
	if spec.Kind != domain.KindIRS || spec.IRS == nil || spec.CCS != nil {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.IRS.FixedRate.String() != "0.041" || spec.IRS.Notional.String() != "10000000" {
		t.Fatalf("decimals not exact: rate=%s notional=%s", spec.IRS.FixedRate, spec.IRS.Notional)
	}
	if !spec.IRS.Maturity.Equal(domain.Day(2027, time.January, 6)) {
		t.Fatalf("maturity=%s", spec.IRS.Maturity)
	}
	if !spec.IRS.FloatSpread.IsZero() {
		t.Fatalf("missing spread should be zero, got %s", spec.IRS.FloatSpread)
	}
}

func TestLoadSpecCCS(t *testing.T) {
	spec, err := LoadSpec(filepath.Join("testdata", "ccs.yaml"))
	if err != nil {
		t.Fatalf("LoadSpec() err=%v", err)
	}
	if spec.CCS == nil || !spec.CCS.ExchangeNotional || spec.CCS.FXPair() != "EURUSD" {
		t.Fatalf("unexpected spec %+v", spec.CCS)
	}
	if spec.CCS.ForeignSpread.String() != "0.0015" {
		t.Fatalf("foreign spread=%s", spec.CCS.ForeignSpread)
	}
}

func TestLoadSnapshot(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join("testdata", "market.yaml"))
	if err != nil {
		t.Fatalf("LoadSnapshot() err=%v", err)
	}
	sofr := snap.Curves["SOFR"]
	if len(sofr) != 5 || sofr[0].Tenor != "3M" || sofr[0].Kind != domain.QuoteDeposit || sofr[4].Kind != domain.QuoteSwap {
		t.Fatalf("unexpected SOFR quotes %+v", sofr)
	}
	if rate, ok := snap.FXRate("EURUSD"); !ok || rate.String() != "1.085" {
		t.Fatalf("EURUSD=%v ok=%v", rate, ok)
	}
	if !snap.AsOf.Equal(time.Date(2025, time.January, 6, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("as_of=%s", snap.AsOf)
	}

	first, _, err := repo.SnapshotHash(snap)
	if err != nil {
		t.Fatalf("SnapshotHash() err=%v", err)
	}
	again, _ := LoadSnapshot(filepath.Join("testdata", "market.yaml"))
	second, _, _ := repo.SnapshotHash(again)
	if first != second {
		t.Fatalf("snapshot hash unstable: %s != %s", first, second)
	}
}

func TestDecodeReportsEveryBadField(t *testing.T) {
	body := `
kind: IRS
irs:
  notional: ten
  fixed_rate: 0.04
  effective: 06/01/2025
`
	_, err := DecodeSpec(strings.NewReader(body))
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"irs.notional", "irs.effective"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := DecodeSnapshot(strings.NewReader("valuation_date: 2025-01-06\nquotes: []\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
