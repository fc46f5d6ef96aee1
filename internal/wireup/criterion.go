package wireup

import "github.com/lanewire/wireup/internal/capbits"

// ScoreContext carries the per-call inputs a scorer needs beyond the two
// resources being paired.
type ScoreContext struct {
	EstimatedNumEndpoints int
}

// ScoreFunc computes the dimensionless, higher-is-better score for a
// (local, remote) pairing under one category's cost model.
type ScoreFunc func(local TransportResource, remote RemoteAddress, ctx ScoreContext) float64

// Criterion is the input to one transport-matcher pass (spec section 4.1).
type Criterion struct {
	Title string

	ReqLocalIfaceCaps  capbits.Bits
	ReqRemoteIfaceCaps capbits.Bits
	ReqLocalMDFlags    capbits.Bits
	ReqRemoteMDFlags   capbits.Bits
	ReqLocalAtomic     capbits.AtomicMatrix
	ReqRemoteAtomic    capbits.AtomicMatrix

	Score ScoreFunc

	AllowAuxiliary bool
}
