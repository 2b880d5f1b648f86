package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/core/model"
)

func TestGenerateFleet(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	center := model.Point{Lat: 45.76, Lng: 4.83}
	cs := GenerateFleet(FleetConfig{Size: 50, Organization: "acme", Center: center, SpreadM: 2000})
	require.Len(t, cs, 50)
	assert.Equal(t, "col0001", cs[0].ID)
	assert.Equal(t, "col0050", cs[49].ID)
	for _, c := range cs {
		assert.Equal(t, "acme", c.OrganizationID)
		assert.LessOrEqual(t, model.DistanceMeters(center, c.pos), 2000.0+1, c.ID)
	}
	assert.Nil(t, GenerateFleet(FleetConfig{}))
}

func TestLoadDutyProfile(t *testing.T) {
	prof, err := LoadDutyProfile([]byte(`{"6":0.5,"7":1,"8":3,"x":1,"30":1}`))
	require.NoError(t, err)
	assert.Equal(t, 0.5, prof[6])
	assert.Equal(t, 1.0, prof[7])
	assert.Equal(t, 1.0, prof[8])
	assert.Zero(t, prof[0])

	_, err = LoadDutyProfile([]byte(`invalid`))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", Count: 1, Interval: 1, Center: model.Point{Lat: 1, Lng: 1}}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.APIURL = "http://localhost:8080"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Center.Lat = 200
	bad.Count = 0
	assert.Error(t, bad.Validate())
}
