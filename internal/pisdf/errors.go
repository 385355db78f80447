package pisdf

import "errors"

// ErrInvalidConstruction is the sentinel wrapped by every error returned
// while building a malformed graph: unconnected ports, mismatched subgraph
// arity, a CONFIG vertex reaching across graphs, or a CONFIG output feeding
// a persistent delay's token count.
var ErrInvalidConstruction = errors.New("invalid construction")
