package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/swapval/internal/domain"
)

var testdata = filepath.Join("..", "..", "internal", "fixture", "testdata")

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPriceIRS(t *testing.T) {
	out, err := execute(t, "price",
		"--spec", filepath.Join(testdata, "irs.yaml"),
		"--market", filepath.Join(testdata, "market.yaml"))
	if err != nil {
		t.Fatalf("price err=%v output=%s", err, out)
	}
	var got priceOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.RunID == "" || got.LineageHead == "" || got.Result.Currency != "USD" || len(got.Result.Legs) != 2 {
		t.Fatalf("unexpected output %+v", got)
	}
	if _, ok := got.Result.Sensitivities["SOFR:pv01"]; !ok {
		t.Fatalf("missing pv01 in %v", got.Result.Sensitivities)
	}
}

func TestPriceIsDeterministic(t *testing.T) {
	args := []string{"price",
		"--spec", filepath.Join(testdata, "ccs.yaml"),
		"--market", filepath.Join(testdata, "market.yaml")}
	first, err := execute(t, args...)
	if err != nil {
		t.Fatalf("price err=%v", err)
	}
	second, err := execute(t, args...)
	if err != nil {
		t.Fatalf("price err=%v", err)
	}
	var a, b priceOutput
	_ = json.Unmarshal([]byte(first), &a)
	_ = json.Unmarshal([]byte(second), &b)
	if a.LineageHead != b.LineageHead || a.Result.TotalPV != b.Result.TotalPV {
		t.Fatalf("runs differ: %s/%v vs %s/%v", a.LineageHead, a.Result.TotalPV, b.LineageHead, b.Result.TotalPV)
	}
}

func TestHashPrintsSnapshotHash(t *testing.T) {
	out, err := execute(t, "hash", "--market", filepath.Join(testdata, "market.yaml"))
	if err != nil {
		t.Fatalf("hash err=%v", err)
	}
	if hash := strings.TrimSpace(out); len(hash) != 64 {
		t.Fatalf("hash=%q, want 64 hex chars", hash)
	}
}

func TestVerify(t *testing.T) {
	out, err := execute(t, "verify",
		"--spec", filepath.Join(testdata, "irs.yaml"),
		"--market", filepath.Join(testdata, "market.yaml"))
	if err != nil {
		t.Fatalf("verify err=%v output=%s", err, out)
	}
	var got verifyOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !got.Verified || got.State != domain.RunStateCompleted || len(got.Stages) != 4 {
		t.Fatalf("unexpected output %+v", got)
	}
}

func TestPriceRequiresFlags(t *testing.T) {
	if _, err := execute(t, "price", "--spec", filepath.Join(testdata, "irs.yaml")); err == nil {
		t.Fatalf("expected missing --market error")
	}
}
