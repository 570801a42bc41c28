package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProfilerScopes(t *testing.T) {
	p := NewProfiler()
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }

	end := p.Scope("Cluster CPU")
	clock = clock.Add(3 * time.Millisecond)
	end()
	p.BeginScope("Atlas Spot")
	clock = clock.Add(time.Millisecond)
	p.EndScope("Atlas Spot")
	p.BeginScope("Cluster CPU")
	p.EndScope("Cluster CPU")

	assert.Equal(t, []string{"Cluster CPU", "Atlas Spot"}, p.Order)
	assert.Equal(t, time.Duration(0), p.Scopes["Cluster CPU"])
	assert.Equal(t, 1.0, p.Milliseconds()["Atlas Spot"])

	p.SetCount("Active Points", 4)
	s := p.GetStatsString()
	assert.Contains(t, s, "Atlas Spot")
	assert.Contains(t, s, "Active Points  : 4")

	p.Reset()
	assert.Equal(t, time.Duration(0), p.Scopes["Atlas Spot"])
	assert.Len(t, p.Order, 2)
}

func TestProfilerRecord(t *testing.T) {
	p := NewProfiler()
	p.BeginScope("LightSet")
	p.EndScope("LightSet")
	p.Record("Cluster GPU", 1500*time.Microsecond)
	p.Record("Cluster GPU", 2*time.Millisecond)

	assert.Equal(t, []string{"LightSet", "Cluster GPU"}, p.Order)
	assert.Equal(t, 2.0, p.Milliseconds()["Cluster GPU"])
}
