// Package simulate generates the synthetic regression datasets of the
// study. Every scenario is a Gaussian data-generating process with a known
// conditional mean and scale, so the ideal forecast N(m(x), s(x)) is
// available in closed form and scores can be put on an absolute skill scale.
package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/HatiCode/ensagg/pkg/models"
)

// Scenario is a Gaussian regression data-generating process. Features are
// drawn iid uniform on [0, 1] and the response is N(Mean(x), Scale(x)).
type Scenario struct {
	ID       int
	Features int
	Mean     func(x []float64) float64
	Scale    func(x []float64) float64
}

// Name is the dataset label used in panels and storage keys.
func (s Scenario) Name() string {
	return fmt.Sprintf("scen_%d", s.ID)
}

// scenarios covers the studied process classes: linear/homoscedastic,
// linear/heteroscedastic, nonlinear mean, and nonlinear/heteroscedastic.
var scenarios = []Scenario{
	{
		ID:       1,
		Features: 5,
		Mean:     func(x []float64) float64 { return x[0] + 2*x[1] },
		Scale:    func(x []float64) float64 { return 1 },
	},
	{
		ID:       2,
		Features: 5,
		Mean:     func(x []float64) float64 { return x[0] + x[1] },
		Scale:    func(x []float64) float64 { return 0.5 + x[2] },
	},
	{
		ID:       3,
		Features: 5,
		Mean: func(x []float64) float64 {
			return math.Sin(2*math.Pi*x[0]) + x[1]*x[1]
		},
		Scale: func(x []float64) float64 { return 1 },
	},
	{
		ID:       4,
		Features: 5,
		Mean: func(x []float64) float64 {
			return 3*x[0]*x[1] + math.Cos(math.Pi*x[2])
		},
		Scale: func(x []float64) float64 { return 0.3 + 1.5*x[3]*x[3] },
	},
}

// IDs lists the available scenario identifiers in order.
func IDs() []int {
	ids := make([]int, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// ByID looks up a scenario.
func ByID(id int) (Scenario, error) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("unknown scenario %d", id)
}

// Sizes fixes the split sizes of a generated dataset. The validation block
// is drawn right after the training block from the same stream, so it plays
// the role of a held-out training tail.
type Sizes struct {
	Train int // excludes the validation tail
	Valid int
	Test  int
}

// DefaultSizes matches the reference study dimensions: 6000 training draws
// with the last 1000 held out for validation.
func DefaultSizes() Sizes {
	return Sizes{Train: 5000, Valid: 1000, Test: 1000}
}

func (s Sizes) validate() error {
	if s.Train < 1 || s.Valid < 1 || s.Test < 1 {
		return fmt.Errorf("all split sizes must be positive, got %+v", s)
	}
	return nil
}

// Dataset is one simulated replicate: the three splits plus the parameters
// of the ideal forecast for every test instance.
type Dataset struct {
	Train models.Data
	Valid models.Data
	Test  models.Data

	// OptimalLocation and OptimalScale parameterize N(m(x), s(x)) per
	// test instance.
	OptimalLocation []float64
	OptimalScale    []float64
}

// Seed returns the deterministic seed of a (scenario, replicate) pair.
// Identical across network variants and ensemble sizes so reruns reproduce
// the exact draw.
func Seed(scenarioID, replicate int) uint64 {
	return uint64(123 + 10*scenarioID + 100*replicate)
}

// Generate draws one replicate. The same (scenario, replicate) pair always
// produces the same dataset.
func (s Scenario) Generate(replicate int, sizes Sizes) (Dataset, error) {
	if err := sizes.validate(); err != nil {
		return Dataset{}, err
	}
	if replicate < 0 {
		return Dataset{}, fmt.Errorf("replicate must be non-negative, got %d", replicate)
	}

	rng := rand.New(rand.NewPCG(Seed(s.ID, replicate), 0))

	draw := func(n int) (models.Data, []float64, []float64) {
		x := make([][]float64, n)
		y := make([]float64, n)
		loc := make([]float64, n)
		scale := make([]float64, n)
		for i := 0; i < n; i++ {
			row := make([]float64, s.Features)
			for j := range row {
				row[j] = rng.Float64()
			}
			loc[i] = s.Mean(row)
			scale[i] = s.Scale(row)
			x[i] = row
			y[i] = loc[i] + scale[i]*rng.NormFloat64()
		}
		return models.Data{X: x, Y: y}, loc, scale
	}

	train, _, _ := draw(sizes.Train)
	valid, _, _ := draw(sizes.Valid)
	test, loc, scale := draw(sizes.Test)

	return Dataset{
		Train:           train,
		Valid:           valid,
		Test:            test,
		OptimalLocation: loc,
		OptimalScale:    scale,
	}, nil
}
