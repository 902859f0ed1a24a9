package sigscript

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/signmsg"
)

// Sig is the signature record of an instance as seen from the output that
// carries it. A Sig is never modified once created.
type Sig struct {
	// Address is the claimed signer address.
	Address string

	// Signature is the raw signature.
	Signature []byte

	// Algorithm is the scheme that produced Signature.
	Algorithm signmsg.Algorithm

	// Vin is the input whose outpoint the signature is bound to.
	Vin uint32

	// TargetVout is the output whose script carries the instance.
	TargetVout uint32
}

// Base64 returns the standard base64 encoding of the signature.
func (s Sig) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Signature)
}

// Equal reports whether both records describe the same signature.
func (s Sig) Equal(o Sig) bool {
	return s.Address == o.Address && s.Algorithm == o.Algorithm &&
		s.Vin == o.Vin && s.TargetVout == o.TargetVout &&
		bytes.Equal(s.Signature, o.Signature)
}

// String returns a short description of the record.
func (s Sig) String() string {
	return fmt.Sprintf("%v sig by %v (vin=%d, vout=%d)", s.Algorithm,
		s.Address, s.Vin, s.TargetVout)
}

// Sig returns the record of the instance located in output targetVout.
func (i *Instance) Sig(targetVout uint32) Sig {
	return Sig{
		Address:    i.Address,
		Signature:  bytes.Clone(i.Signature),
		Algorithm:  i.Algorithm,
		Vin:        i.Vin,
		TargetVout: targetVout,
	}
}

// Sigs returns the records of all instances in script, which is the locking
// script of output targetVout.
func Sigs(script []byte, targetVout uint32) []Sig {
	instances := scan(script)

	sigs := make([]Sig, 0, len(instances))
	for i := range instances {
		sigs = append(sigs, instances[i].Sig(targetVout))
	}

	return sigs
}

// PrefixBeforeInstance returns the script content the index-th instance of
// script commits to. If there is no such instance the whole script is
// returned, which is what a newly appended instance would commit to.
func PrefixBeforeInstance(script []byte, index int) []byte {
	return fn.ElimOption(InstanceAt(script, index),
		func() []byte { return script },
		func(inst Instance) []byte { return inst.Prefix() },
	)
}
