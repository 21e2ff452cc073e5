// Package tensor defines the backend-neutral tensor used at every public
// boundary: a named n-dimensional array with single-letter axis labels whose
// payload is either absent, an in-process typed slice, or a portable
// row-major flat buffer. Only flat buffers cross an engine isolation boundary.
package tensor
