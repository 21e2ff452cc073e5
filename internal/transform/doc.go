// Package transform implements the named numeric pre- and post-processing
// operations applied to tensors before and after inference, and the
// pipeline that chains them.
//
// Every operation validates its parameters when constructed and checks the
// target tensor before touching any element, so a failing operation never
// leaves a tensor half-transformed. Operations change element values (and,
// where stated, the element type) but never axes or shape.
package transform
