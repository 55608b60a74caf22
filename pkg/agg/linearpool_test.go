package agg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

func TestLinearPool_Aggregate(t *testing.T) {
	levels := forecast.DefaultLevels(99)
	members := []forecast.Forecast{
		mustNormal(t, 7, 1, levels),
		mustNormal(t, 10, 1, levels),
	}

	got, err := LinearPool{}.Aggregate(members)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got.Method != MethodLinearPool {
		t.Errorf("Method = %q, want %q", got.Method, MethodLinearPool)
	}
	if got.Len() != 198 {
		t.Errorf("pooled grid size = %d, want 198", got.Len())
	}

	values := got.Values()
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("pooled values not sorted at %d", i)
		}
	}
}

func TestLinearPool_AveragesCDFs(t *testing.T) {
	// The pooled forecast realizes F_agg(y) = (F1(y)+F2(y))/2 on the grid:
	// compare against the analytic mixture CDF of N(7,1) and N(10,1).
	levels := forecast.DefaultLevels(199)
	members := []forecast.Forecast{
		mustNormal(t, 7, 1, levels),
		mustNormal(t, 10, 1, levels),
	}

	got, err := LinearPool{}.Aggregate(members)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	n1 := distuv.Normal{Mu: 7, Sigma: 1}
	n2 := distuv.Normal{Mu: 10, Sigma: 1}

	for _, y := range []float64{6, 7, 8.5, 10, 11} {
		want := (n1.CDF(y) + n2.CDF(y)) / 2
		if diff := math.Abs(got.CDF(y) - want); diff > 0.01 {
			t.Errorf("CDF(%v) = %v, want %v (diff %v)", y, got.CDF(y), want, diff)
		}
	}
}

func TestLinearPool_DiffersFromVincentization(t *testing.T) {
	// N(7,1) + N(10,1): Vincentization yields N(8.5,1); the linear pool
	// yields the bimodal two-component mixture. The mixture is much more
	// dispersed, so its central interval must be clearly wider.
	levels := forecast.DefaultLevels(99)
	members := []forecast.Forecast{
		mustNormal(t, 7, 1, levels),
		mustNormal(t, 10, 1, levels),
	}

	pooled, err := LinearPool{}.Aggregate(members)
	if err != nil {
		t.Fatalf("LinearPool.Aggregate() error = %v", err)
	}

	v, err := NewVincent(MethodVincent)
	if err != nil {
		t.Fatalf("NewVincent() error = %v", err)
	}
	vinc, err := v.Combine(members, FixedParams(2))
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}

	lpLo, lpHi, err := pooled.CentralInterval(0.8)
	if err != nil {
		t.Fatalf("CentralInterval() error = %v", err)
	}
	viLo, viHi, err := vinc.CentralInterval(0.8)
	if err != nil {
		t.Fatalf("CentralInterval() error = %v", err)
	}

	if (lpHi - lpLo) <= (viHi - viLo) {
		t.Errorf("linear pool interval %v not wider than vincentization %v",
			lpHi-lpLo, viHi-viLo)
	}

	// Both share the same median by symmetry.
	if math.Abs(pooled.Median()-vinc.Median()) > 0.1 {
		t.Errorf("medians diverge: lp %v vs vi %v", pooled.Median(), vinc.Median())
	}
}

func TestLinearPool_SingleMemberIsIdentity(t *testing.T) {
	levels := forecast.DefaultLevels(19)
	member := mustNormal(t, 2, 1, levels)

	got, err := LinearPool{}.Aggregate([]forecast.Forecast{member})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	want := member.Values()
	for i, val := range got.Values() {
		if val != want[i] {
			t.Fatalf("value %d = %v, want %v", i, val, want[i])
		}
	}
}

func TestLinearPool_Errors(t *testing.T) {
	if _, err := (LinearPool{}).Aggregate(nil); err == nil {
		t.Error("empty member set: expected error")
	}

	a := mustNormal(t, 0, 1, forecast.DefaultLevels(9))
	b := mustNormal(t, 0, 1, forecast.DefaultLevels(19))
	if _, err := (LinearPool{}).Aggregate([]forecast.Forecast{a, b}); err == nil {
		t.Error("mismatched grids: expected error")
	}
}
