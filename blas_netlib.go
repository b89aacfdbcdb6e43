//go:build netlib

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Builds with `-tags netlib` route every matrix product through the
// system BLAS instead of the pure-Go kernels.
func init() {
	blas64.Use(netlib.Implementation{})
}
