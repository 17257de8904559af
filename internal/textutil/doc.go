// Package textutil provides filename sanitization for rendered outputs and
// run log files.
package textutil
