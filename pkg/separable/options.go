package separable

// PivotPolicy decides what elimination does when the best pivot candidate in
// a column is exactly zero.
type PivotPolicy int

const (
	// PivotSkip leaves the rows below untouched and moves on to the next
	// diagonal position. A zero first column therefore makes some rank-1
	// matrices, e.g. [[0,1],[0,1]], look non-separable.
	PivotSkip PivotPolicy = iota

	// PivotSearch performs row-echelon elimination: a column with no
	// non-zero candidate is passed over without consuming a pivot row, so the
	// current row keeps searching later columns. The number of non-zero rows
	// left is then the rank of the matrix.
	PivotSearch
)

func (p PivotPolicy) String() string {
	switch p {
	case PivotSkip:
		return "skip"
	case PivotSearch:
		return "search"
	default:
		return "unknown"
	}
}

// FactorPolicy decides how the column factor is derived once the row factor
// is known.
type FactorPolicy int

const (
	// FactorFromFirstRow divides the kernel's first row by the reduced row's
	// leading value: col[i] = source[0][i] * scalar / row[0]. The outer product
	// reproduces the kernel only when it is symmetric.
	FactorFromFirstRow FactorPolicy = iota

	// FactorFromPivotColumn uses the first column p where the reduced row is
	// non-zero: col[i] = source[i][p] * scalar / row[p]. This reproduces any
	// rank-1 kernel.
	FactorFromPivotColumn
)

func (f FactorPolicy) String() string {
	switch f {
	case FactorFromFirstRow:
		return "row"
	case FactorFromPivotColumn:
		return "column"
	default:
		return "unknown"
	}
}

// ParsePivotPolicy maps "skip" and "search" to a PivotPolicy.
func ParsePivotPolicy(s string) (PivotPolicy, bool) {
	switch s {
	case "skip":
		return PivotSkip, true
	case "search":
		return PivotSearch, true
	}
	return PivotSkip, false
}

// ParseFactorPolicy maps "row" and "column" to a FactorPolicy.
func ParseFactorPolicy(s string) (FactorPolicy, bool) {
	switch s {
	case "row":
		return FactorFromFirstRow, true
	case "column":
		return FactorFromPivotColumn, true
	}
	return FactorFromFirstRow, false
}

type options struct {
	pivot  PivotPolicy
	factor FactorPolicy
}

// Option configures Analyze and Factorize.
type Option func(*options)

// WithPivotPolicy selects the zero-pivot behaviour. Default: PivotSkip.
func WithPivotPolicy(p PivotPolicy) Option {
	return func(o *options) { o.pivot = p }
}

// WithFactorPolicy selects the column-factor derivation. Default: FactorFromFirstRow.
func WithFactorPolicy(f FactorPolicy) Option {
	return func(o *options) { o.factor = f }
}

func gatherOptions(opts []Option) options {
	o := options{pivot: PivotSkip, factor: FactorFromFirstRow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
