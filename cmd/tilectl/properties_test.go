package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/offline_maps/internal/geo"
)

func TestParseProperty(t *testing.T) {
	tests := []struct {
		in      string
		want    geo.Point
		wantID  string
		wantErr bool
	}{
		{in: "p1=51.5074:-0.1278", wantID: "p1", want: geo.Point{Lat: 51.5074, Lng: -0.1278}},
		{in: " p2 = -33.86 : 151.2 ", wantID: "p2", want: geo.Point{Lat: -33.86, Lng: 151.2}},
		{in: "p1", wantErr: true},
		{in: "=1:2", wantErr: true},
		{in: "p1=51.5", wantErr: true},
		{in: "p1=91:0", wantErr: true},
		{in: "p1=0:181", wantErr: true},
		{in: "p1=a:b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := parseProperty(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.want, p.Point())
		})
	}
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"a=1:2", "b=3:4"})
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "b", props[1].ID)

	_, err = parseProperties([]string{"a=1:2", "broken"})
	require.Error(t, err)
}
