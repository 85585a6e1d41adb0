package handlers

import (
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// Args is a decoded argument record.
type Args interface {
	// Release drops the references the arguments picked up while the
	// call executed.
	Release()
}

// Result is an executed procedure's reply.
type Result interface {
	GetStatus() uint32

	// Encode writes the reply body, status first.
	Encode(b *xdr.Buffer) error

	// Release drops the references the result holds. It runs after the
	// reply is encoded, whatever the outcome.
	Release()
}

// NFSResponseBase is embedded in every v3 result.
//
// All NFS v3 replies start with an nfsstat3. Status must be set before the
// result is encoded.
type NFSResponseBase struct {
	Status uint32
}

// GetStatus returns the NFS status code of the result.
func (r *NFSResponseBase) GetStatus() uint32 {
	return r.Status
}

// Release is a no-op for results holding no handles.
func (r *NFSResponseBase) Release() {}

// fhArgs is embedded in argument records that start with a file handle.
type fhArgs struct {
	FH *fh.FH
}

func (a *fhArgs) Release() {
	if a.FH != nil {
		a.FH.Put()
	}
}

func decodeFH(r *xdr.Reader) (fhArgs, error) {
	h, err := r.Handle()
	if err != nil {
		return fhArgs{}, err
	}
	return fhArgs{FH: fh.FromWire(h)}, nil
}
