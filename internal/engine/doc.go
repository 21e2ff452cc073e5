// Package engine picks an installed inference engine for a model, loads its
// adapter into an isolated context shared by every caller that resolves to
// the same directory, and runs inference sessions against it.
package engine
