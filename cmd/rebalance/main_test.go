package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, dir string, req bundle.Request) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.json")
	data, err := bundle.Marshal(bundle.FormatJSON, req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func buyOnlyRequest() bundle.Request {
	return bundle.Request{
		Input: domain.Input{
			CurrentDate: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
			Strategies: []domain.Strategy{{
				Label:            "core",
				OptimizationType: domain.OptimizationBuyOnly,
				Targets: []domain.Target{
					{AssetClassID: "us", Identifiers: []string{"VTI"}, TargetWeight: 0.5},
					{AssetClassID: "intl", Identifiers: []string{"VEA"}, TargetWeight: 0.5},
				},
				Prices: []domain.Price{{SecurityID: "VTI", Price: 100}, {SecurityID: "VEA", Price: 50}},
				Cash:   1000,
			}},
		},
		Settings: map[string]domain.Settings{"core": {WeightDrift: 1, TradeRounding: 4}},
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func nettedQuantities(t *testing.T, raw string) map[string]float64 {
	t.Helper()
	var out domain.Output
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	q := make(map[string]float64)
	for _, nt := range out.NettedTrades {
		q[nt.Identifier] = nt.TradeType.Sign() * nt.Quantity
	}
	return q
}

func TestSolve(t *testing.T) {
	path := writeBundle(t, t.TempDir(), buyOnlyRequest())

	stdout, err := execute(t, "solve", "--input", path, "--node-limit", "100")
	require.NoError(t, err)

	q := nettedQuantities(t, stdout)
	assert.InDelta(t, 5, q["VTI"], 1e-3)
	assert.InDelta(t, 10, q["VEA"], 1e-3)
}

func TestSolve_CSVOverridesPrices(t *testing.T) {
	dir := t.TempDir()
	path := writeBundle(t, dir, buyOnlyRequest())
	prices := filepath.Join(dir, "prices.csv")
	require.NoError(t, os.WriteFile(prices, []byte("security_id,price\nVTI,50\nVEA,25\n"), 0644))

	stdout, err := execute(t, "solve", "--input", path, "--prices", prices, "--lp")
	require.NoError(t, err)

	q := nettedQuantities(t, stdout)
	assert.InDelta(t, 10, q["VTI"], 1e-3)
	assert.InDelta(t, 20, q["VEA"], 1e-3)
}

func TestSolve_WritesMsgpackFile(t *testing.T) {
	dir := t.TempDir()
	path := writeBundle(t, dir, buyOnlyRequest())
	outPath := filepath.Join(dir, "out.msgpack")

	stdout, err := execute(t, "solve", "--input", path, "--output", outPath)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var out domain.Output
	require.NoError(t, bundle.Unmarshal(bundle.FormatMsgpack, data, &out))
	assert.Len(t, out.NettedTrades, 2)
}

func TestSolve_RequiresInput(t *testing.T) {
	_, err := execute(t, "solve")
	assert.Error(t, err)
}

func TestSolve_UnknownStrategyForCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeBundle(t, dir, buyOnlyRequest())

	_, err := execute(t, "solve", "--input", path, "--strategy", "other", "--prices", filepath.Join(dir, "prices.csv"))
	assert.ErrorContains(t, err, "not found")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	stdout, err := execute(t, "validate", "--input", writeBundle(t, dir, buyOnlyRequest()))
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok: 1 strategies")

	broken := buyOnlyRequest()
	broken.Settings = nil
	stdout, err = execute(t, "validate", "--input", writeBundle(t, t.TempDir(), broken))
	assert.ErrorIs(t, err, errInvalidBundle)
	assert.Contains(t, stdout, "missing settings")
}
