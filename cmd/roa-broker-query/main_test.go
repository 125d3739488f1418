// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"bytes"
	"net/netip"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roafetch/pkg/broker"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
)

func testResponse() *broker.Response {
	return &broker.Response{
		Projects:   []string{"FU-Berlin"},
		Collectors: []string{"CC01", "CC06(RTR)"},
		Interval:   "1000-2000",
		Start:      900,
		MaxEnd:     0,
		Slices: map[uint32]string{
			1260: "http://a/CC01/1260.csv,http://a/CC06/1260.csv",
			900:  "http://a/CC01/900.csv,0",
			1080: "0,http://a/CC06/1080.csv",
		},
	}
}

func TestPrintSlices(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSlices(&out, testResponse(), &globalFlags{limit: 2}))

	want := "Collectors: FU-Berlin:CC01;FU-Berlin:CC06(RTR)\n" +
		"Interval 1000-2000, start 900, max end 0, 3 slices (showing 2):\n" +
		"  900  http://a/CC01/900.csv,0\n" +
		"  1080  0,http://a/CC06/1080.csv\n"
	assert.Equal(t, want, out.String())
}

func TestPrintSlicesJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSlices(&out, testResponse(), &globalFlags{json: true}))

	var decoded struct {
		Count  int           `json:"count"`
		Slices []sliceOutput `json:"slices"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 3, decoded.Count)
	require.Len(t, decoded.Slices, 3)
	assert.Equal(t, uint32(900), decoded.Slices[0].Timestamp)
	assert.Equal(t, []string{"http://a/CC01/900.csv", "0"}, decoded.Slices[0].Dumps)
	assert.Equal(t, uint32(1260), decoded.Slices[2].Timestamp)
}

func TestPrintROAs(t *testing.T) {
	table := pfxtable.New()
	require.NoError(t, table.Replace([]model.ROA{
		{ASN: 12654, Prefix: netip.MustParsePrefix("93.175.146.0/24"), MaxLength: 24},
		{ASN: 12654, Prefix: netip.MustParsePrefix("2001:7fb:fd02::/48"), MaxLength: 48},
	}))

	var out bytes.Buffer
	require.NoError(t, printROAs(&out, table, &globalFlags{}))
	assert.Contains(t, out.String(), "2 ROAs (showing 2):\n")
	assert.Contains(t, out.String(), "93.175.146.0/24-24")
	assert.Contains(t, out.String(), "2001:7fb:fd02::/48-48")

	out.Reset()
	require.NoError(t, printROAs(&out, table, &globalFlags{json: true, limit: 1}))
	var decoded struct {
		Count int         `json:"count"`
		Total int         `json:"total"`
		ROAs  []roaOutput `json:"roas"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Count)
	assert.Equal(t, 2, decoded.Total)
	assert.Equal(t, uint32(12654), decoded.ROAs[0].ASN)
}
