package minimizer

import "gonum.org/v1/gonum/mat"

// Objective is a cost function the minimizers can drive. Evaluate returns the
// cost at params together with the first-order information used by
// Gauss–Newton style methods.
type Objective interface {
	// NumParams is the length every params vector must have.
	NumParams() int

	// Evaluate computes the cost, beta and alpha at params.
	Evaluate(params []float64) (Evaluation, error)
}

// Evaluation is the result of one Objective call.
type Evaluation struct {
	// Cost is the value being minimized.
	Cost float64

	// Beta is the negative gradient of Cost, the steepest descent direction.
	Beta []float64

	// Alpha approximates the Hessian of Cost from first derivatives only.
	Alpha *mat.SymDense
}
