package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleRequest() Request {
	date := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	return Request{
		Input: domain.Input{
			CurrentDate: date,
			TaxRates:    domain.TaxRates{ShortTermRate: 0.35, LongTermRate: 0.15},
			Strategies: []domain.Strategy{{
				Label:            "core",
				OptimizationType: domain.OptimizationTaxAware,
				TaxLots: []domain.TaxLot{
					{LotID: "l1", SecurityID: "VTI", Quantity: 10, CostBasis: 200, AcquisitionDate: date.AddDate(-1, 0, 0)},
				},
				Targets: []domain.Target{{AssetClassID: "us", Identifiers: []string{"VTI"}, TargetWeight: 1}},
				Prices:  []domain.Price{{SecurityID: "VTI", Price: 250}},
				Cash:    1000,
			}},
		},
		Settings: map[string]domain.Settings{
			"core": {WeightTax: 1, WeightDrift: 1, TradeRounding: 2},
		},
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	data, err := Marshal(FormatMsgpack, sampleRequest())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.Contains(t, raw, "input")
	assert.Contains(t, raw, "settings")

	var got Request
	require.NoError(t, Unmarshal(FormatMsgpack, data, &got))
	want := sampleRequest()
	assert.True(t, want.Input.CurrentDate.Equal(got.Input.CurrentDate))
	assert.Equal(t, want.Input.Strategies[0].TaxLots[0].LotID, got.Input.Strategies[0].TaxLots[0].LotID)
	assert.Equal(t, want.Settings, got.Settings)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var req Request
	err := Decode(strings.NewReader(`{"input": {}, "settigns": {}}`), FormatJSON, &req)
	assert.Error(t, err)
}

func TestFormatDetection(t *testing.T) {
	assert.Equal(t, FormatMsgpack, FormatFromContentType("application/msgpack"))
	assert.Equal(t, FormatMsgpack, FormatFromContentType("application/x-msgpack; charset=binary"))
	assert.Equal(t, FormatJSON, FormatFromContentType("application/json; charset=utf-8"))
	assert.Equal(t, FormatJSON, FormatFromContentType(""))

	assert.Equal(t, FormatMsgpack, FormatFromPath("runs/today.MSGPACK"))
	assert.Equal(t, FormatJSON, FormatFromPath("bundle.json"))
	assert.Equal(t, ContentTypeMsgpack, FormatMsgpack.ContentType())
}

func TestReadRequestFile(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		path := filepath.Join(dir, "bundle."+string(f))
		data, err := Marshal(f, sampleRequest())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0644))

		req, err := ReadRequestFile(path)
		require.NoError(t, err, path)
		assert.Len(t, req.Input.Strategies, 1)
		assert.NoError(t, req.Validate())
	}
}

func TestRequestStrategy(t *testing.T) {
	req := sampleRequest()

	s, err := req.Strategy("")
	require.NoError(t, err)
	s.Cash = 5
	assert.Equal(t, 5.0, req.Input.Strategies[0].Cash, "returned strategy aliases the bundle")

	_, err = req.Strategy("missing")
	assert.Error(t, err)
}

func TestRequestValidate_CollectsProblems(t *testing.T) {
	req := sampleRequest()
	req.Input.Strategies = append(req.Input.Strategies, domain.Strategy{Label: "orphan", OptimizationType: "BOGUS"})
	req.Settings["core"] = domain.Settings{WeightTax: -1}

	err := req.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.ErrorIs(t, err, domain.ErrMissingSettings)
	assert.Contains(t, err.Error(), "BOGUS")
}

func TestReadCSVTables(t *testing.T) {
	lots, err := ReadLots(bytes.NewBufferString(
		"lot_id,security_id,quantity,cost_basis,acquisition_date\n" +
			"l1,VTI,10,200.5,2023-01-15\n" +
			"l2,VEA,4,48,2024-02-01T00:00:00Z\n"))
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "VTI", lots[0].SecurityID)
	assert.Equal(t, 200.5, lots[0].CostBasis)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), lots[0].AcquisitionDate)

	targets, err := ReadTargets(bytes.NewBufferString(
		"asset_class_id,identifiers,target_weight\n" +
			"us,VTI|ITOT,0.6\n" +
			"intl,VEA;IEFA,0.4\n"))
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, []string{"VTI", "ITOT"}, targets[0].Identifiers)
	assert.Equal(t, []string{"VEA", "IEFA"}, targets[1].Identifiers)

	prices, err := ReadPrices(bytes.NewBufferString("security_id,price\nVTI,251.2\n"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Price{{SecurityID: "VTI", Price: 251.2}}, prices)
}

func TestReadLots_BadDate(t *testing.T) {
	_, err := ReadLots(bytes.NewBufferString(
		"lot_id,security_id,quantity,cost_basis,acquisition_date\nl1,VTI,10,200,15/01/2023\n"))
	assert.ErrorContains(t, err, "row 1")
}
