// Package sigscript locates, parses and writes signature instances inside
// locking scripts.
//
// An instance is five consecutive data pushes:
//
//	SIGMA <algorithm> <address> <signature> <vin>
//
// It is separated from preceding script content by OP_RETURN or, if the
// script already contains an OP_RETURN, by a one byte "|" push. An instance
// may also be nested: OP_RETURN followed by a single push whose payload is a
// script carrying the instance.
package sigscript

import (
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/btcsuite/btcd/txscript"
	"github.com/sigmaproto/sigma/signmsg"
)

const (
	// Marker is the protocol tag that opens every signature instance.
	Marker = "SIGMA"

	// instanceFields is the number of pushes forming an instance, the
	// marker included.
	instanceFields = 5
)

// pipeSeparator is pushed in front of an appended instance when the script
// already carries an OP_RETURN.
var pipeSeparator = []byte{'|'}

// ErrNoInstance is returned when a requested instance does not exist.
var ErrNoInstance = errors.New("no signature instance at index")

// ErrMalformedScript is returned when a script an instance is to be written
// into does not parse up to its end.
var ErrMalformedScript = errors.New("malformed script")

// Placement tells how an instance is embedded into its script.
type Placement uint8

const (
	// PlacementInline instances are top level script pushes.
	PlacementInline Placement = iota

	// PlacementNested instances live inside the payload of the push that
	// follows an OP_RETURN.
	PlacementNested
)

// String returns a human readable name of the placement.
func (p Placement) String() string {
	switch p {
	case PlacementInline:
		return "inline"
	case PlacementNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Instance is a signature instance found in a script.
type Instance struct {
	// Placement is the encoding the instance was found in.
	Placement Placement

	// Position is the top level token offset of the instance: the marker
	// for inline instances, the carrying push for nested ones.
	Position int

	// Algorithm is the algorithm tag. It is not validated by the codec.
	Algorithm signmsg.Algorithm

	// Address is the claimed signer address.
	Address string

	// Signature is the raw signature.
	Signature []byte

	// Vin is the index of the input bound into the signature.
	Vin uint32

	// prefix is the script content preceding the instance's separator.
	// prefixEnd is where that separator starts within the script (inline)
	// or the payload (nested).
	prefix    []byte
	prefixEnd int

	// fieldStart and fieldEnd delimit the five pushes, within the script
	// for inline instances and within payload for nested ones.
	fieldStart int
	fieldEnd   int

	// pushStart and pushEnd delimit the push carrying payload in the top
	// level script. Only set for nested instances.
	pushStart int
	pushEnd   int
	payload   []byte
}

// Prefix returns the script bytes preceding the instance's separator. This is
// the content a signature on the instance commits to.
func (i *Instance) Prefix() []byte {
	return i.prefix
}

// SerializeInstance returns the ASM style fields of an instance: the hex of
// the marker, the algorithm and the address, the signature hex as given and
// the hex of the decimal vin.
func SerializeInstance(algorithm signmsg.Algorithm, address,
	signatureHex string, vin uint32) []string {

	return []string{
		hex.EncodeToString([]byte(Marker)),
		hex.EncodeToString([]byte(algorithm)),
		hex.EncodeToString([]byte(address)),
		signatureHex,
		hex.EncodeToString([]byte(strconv.FormatUint(uint64(vin), 10))),
	}
}

// EncodeInstance returns the binary pushes of an instance, without separator.
func EncodeInstance(algorithm signmsg.Algorithm, address string, sig []byte,
	vin uint32) ([]byte, error) {

	return txscript.NewScriptBuilder().
		AddData([]byte(Marker)).
		AddData([]byte(algorithm)).
		AddData([]byte(address)).
		AddData(sig).
		AddData([]byte(strconv.FormatUint(uint64(vin), 10))).
		Script()
}

// ASM returns the opcode text form of script.
func ASM(script []byte) (string, error) {
	return txscript.DisasmString(script)
}
