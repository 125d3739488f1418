package result

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
)

var fuBerlin = []model.Collector{
	{Project: "FU-Berlin", Name: "CC01"},
	{Project: "FU-Berlin", Name: "CC06(RTR)"},
}

func beaconTable(t *testing.T) *pfxtable.Table {
	t.Helper()
	table := pfxtable.New()
	for _, roa := range []model.ROA{
		{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 24},
		{ASN: 196615, Prefix: netip.MustParsePrefix("93.175.147.0/24"), MaxLength: 24},
		{ASN: 12654, Prefix: netip.MustParsePrefix("2001:7fb:fd02::/48"), MaxLength: 48},
		{ASN: 196615, Prefix: netip.MustParsePrefix("2001:7fb:fd03::/48"), MaxLength: 48},
	} {
		require.NoError(t, table.Add(roa))
	}
	return table
}

func TestRenderBeacons(t *testing.T) {
	table := beaconTable(t)

	tests := []struct {
		name     string
		asn      uint32
		addr     string
		maskLen  uint8
		unified  string
		discrete string
	}{
		{
			name: "valid v4", asn: 12654, addr: "93.175.146.0", maskLen: 24,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),valid,12654,93.175.146.0/24-24;`,
			discrete: "FU-Berlin,CC01,valid,12654,93.175.146.0/24-24;FU-Berlin,CC06(RTR),valid,12654,93.175.146.0/24-24;",
		},
		{
			name: "valid v6", asn: 12654, addr: "2001:7fb:fd02::", maskLen: 48,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),valid,12654,2001:7fb:fd02::/48-48;`,
			discrete: "FU-Berlin,CC01,valid,12654,2001:7fb:fd02::/48-48;FU-Berlin,CC06(RTR),valid,12654,2001:7fb:fd02::/48-48;",
		},
		{
			name: "invalid v4", asn: 12654, addr: "93.175.147.0", maskLen: 24,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),invalid,196615,93.175.147.0/24-24;`,
			discrete: "FU-Berlin,CC01,invalid,196615,93.175.147.0/24-24;FU-Berlin,CC06(RTR),invalid,196615,93.175.147.0/24-24;",
		},
		{
			name: "invalid v6", asn: 12654, addr: "2001:7fb:fd03::", maskLen: 48,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),invalid,196615,2001:7fb:fd03::/48-48;`,
			discrete: "FU-Berlin,CC01,invalid,196615,2001:7fb:fd03::/48-48;FU-Berlin,CC06(RTR),invalid,196615,2001:7fb:fd03::/48-48;",
		},
		{
			name: "notfound v4", asn: 0, addr: "84.205.83.0", maskLen: 24,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),notfound;`,
			discrete: "FU-Berlin,CC01,notfound;FU-Berlin,CC06(RTR),notfound;",
		},
		{
			name: "notfound v6", asn: 0, addr: "2001:7fb:ff03::", maskLen: 48,
			unified:  `FU-Berlin\CC01 FU-Berlin\CC06(RTR),notfound;`,
			discrete: "FU-Berlin,CC01,notfound;FU-Berlin,CC06(RTR),notfound;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reasons, err := table.Validate(tt.asn, netip.MustParseAddr(tt.addr), tt.maskLen)
			require.NoError(t, err)

			// Unified mode validates the merged table in slot 0 only
			unified := NewElem(len(fuBerlin))
			unified.Add(0, fuBerlin[0].Project, fuBerlin[0].Name, status, reasons)
			assert.Equal(t, tt.unified, Render(unified, fuBerlin, true))

			discrete := NewElem(len(fuBerlin))
			for i, c := range fuBerlin {
				discrete.Add(i, c.Project, c.Name, status, reasons)
			}
			assert.Equal(t, tt.discrete, Render(discrete, fuBerlin, false))
		})
	}
}

func TestRenderMultipleOrigins(t *testing.T) {
	reasons := []model.ROA{
		{ASN: 0, Prefix: netip.MustParsePrefix("80.128.0.0/11"), MaxLength: 11},
		{ASN: 0, Prefix: netip.PrefixFrom(netip.MustParseAddr("80.128.0.1"), 11), MaxLength: 11},
		{ASN: 3320, Prefix: netip.MustParsePrefix("80.128.0.0/11"), MaxLength: 11},
		{ASN: 2792, Prefix: netip.MustParsePrefix("80.128.0.0/11"), MaxLength: 11},
	}

	unified := NewElem(2)
	unified.Add(0, "FU-Berlin", "CC01", model.StatusInvalid, reasons)
	assert.Equal(t, 3, unified.Len())
	assert.Equal(t,
		`FU-Berlin\CC01 FU-Berlin\CC06(RTR),invalid,0,80.128.0.0/11-11 80.128.0.1/11-11;`+
			`FU-Berlin\CC01 FU-Berlin\CC06(RTR),invalid,2792,80.128.0.0/11-11;`+
			`FU-Berlin\CC01 FU-Berlin\CC06(RTR),invalid,3320,80.128.0.0/11-11;`,
		Render(unified, fuBerlin, true))

	discrete := NewElem(2)
	discrete.Add(1, "FU-Berlin", "CC06(RTR)", model.StatusInvalid, reasons)
	discrete.Add(0, "FU-Berlin", "CC01", model.StatusInvalid, reasons)
	assert.Equal(t,
		"FU-Berlin,CC01,invalid,0,80.128.0.0/11-11 80.128.0.1/11-11;"+
			"FU-Berlin,CC01,invalid,2792,80.128.0.0/11-11;"+
			"FU-Berlin,CC01,invalid,3320,80.128.0.0/11-11;"+
			"FU-Berlin,CC06(RTR),invalid,0,80.128.0.0/11-11 80.128.0.1/11-11;"+
			"FU-Berlin,CC06(RTR),invalid,2792,80.128.0.0/11-11;"+
			"FU-Berlin,CC06(RTR),invalid,3320,80.128.0.0/11-11;",
		Render(discrete, fuBerlin, false))
}

func TestRenderMixed(t *testing.T) {
	reasons := []model.ROA{{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 24}}

	// Inactive slots stay silent
	elem := NewElem(3)
	collectors := append(append([]model.Collector(nil), fuBerlin...), model.Collector{Project: "RIPE", Name: "RRC00"})
	elem.Add(2, "RIPE", "RRC00", model.StatusNotFound, nil)
	elem.Add(1, "FU-Berlin", "CC06(RTR)", model.StatusValid, reasons)
	assert.Equal(t,
		"FU-Berlin,CC06(RTR),valid,12654,93.175.146.0/24-24;RIPE,RRC00,notfound;",
		Render(elem, collectors, false))
}

func TestElemAddOnce(t *testing.T) {
	reasons := []model.ROA{{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 24}}

	elem := NewElem(1)
	assert.Equal(t, model.StatusNotValidated, elem.Status(0))

	elem.Add(0, "FU-Berlin", "CC01", model.StatusValid, reasons)
	elem.Add(0, "FU-Berlin", "CC01", model.StatusInvalid, reasons)
	elem.Add(0, "FU-Berlin", "CC01", model.StatusValid, reasons)
	assert.Equal(t, model.StatusValid, elem.Status(0))
	assert.Equal(t, 1, elem.Len())
	assert.Equal(t, "93.175.146.0/24-24", elem.Prefixes(Key{"FU-Berlin", "CC01", model.StatusValid, 12654}))

	// Out of range slots are ignored
	elem.Add(5, "FU-Berlin", "CC01", model.StatusValid, reasons)
	assert.Equal(t, model.StatusNotValidated, elem.Status(5))
	assert.Equal(t, 1, elem.Slots())
}

func TestRenderNotValidated(t *testing.T) {
	elem := NewElem(2)
	assert.Empty(t, Render(elem, fuBerlin, true))
	assert.Empty(t, Render(elem, fuBerlin, false))
	assert.Empty(t, Render(nil, fuBerlin, false))
}

func TestKeyString(t *testing.T) {
	k := Key{Project: "FU-Berlin", Collector: "CC01", Status: model.StatusInvalid, ASN: 4200000000}
	assert.Equal(t, "FU-Berlin,CC01,invalid,4200000000", k.String())
}
