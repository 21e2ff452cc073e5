// Package download fetches model files into a model folder and reports
// per-file progress. Workers send events to a Tracker, which keeps the
// latest fraction per file plus an aggregate under TotalKey; a Broker fans
// snapshots out to live subscribers.
package download
