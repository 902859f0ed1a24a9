package sigscript

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/sigmaproto/sigma/lnutils"
)

// splice returns a copy of b with b[start:end] replaced by repl.
func splice(b []byte, start, end int, repl []byte) []byte {
	out := make([]byte, 0, len(b)-(end-start)+len(repl))
	out = append(out, b[:start]...)
	out = append(out, repl...)

	return append(out, b[end:]...)
}

// Separator returns the separator an instance appended to script is written
// after: a "|" push if script already has an OP_RETURN, OP_RETURN otherwise.
func Separator(script []byte) ([]byte, error) {
	if !HasOpReturn(script) {
		return []byte{txscript.OP_RETURN}, nil
	}

	return txscript.NewScriptBuilder().AddData(pipeSeparator).Script()
}

// AppendInstance returns a copy of script with the separator and the encoded
// instance fragment appended. A script that does not parse is refused with
// ErrMalformedScript.
func AppendInstance(script, fragment []byte) ([]byte, error) {
	if err := checkScript(script); err != nil {
		return nil, err
	}

	sep, err := Separator(script)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(script)+len(sep)+len(fragment))
	out = append(out, script...)
	out = append(out, sep...)
	out = append(out, fragment...)

	log.Tracef("Appended instance after %x: %v", sep,
		lnutils.NewLogClosure(func() string {
			asm, _ := ASM(out)
			return asm
		}))

	return out, nil
}

// ReplaceInstance returns a copy of script in which inst, previously parsed
// from script, is replaced by fragment. Everything around the instance,
// including its separator, is left untouched.
func ReplaceInstance(script []byte, inst Instance,
	fragment []byte) ([]byte, error) {

	if err := checkScript(script); err != nil {
		return nil, err
	}

	switch inst.Placement {
	case PlacementInline:
		return splice(script, inst.fieldStart, inst.fieldEnd, fragment),
			nil

	case PlacementNested:
		payload := splice(
			inst.payload, inst.fieldStart, inst.fieldEnd, fragment,
		)
		push, err := txscript.NewScriptBuilder().
			AddFullData(payload).
			Script()
		if err != nil {
			return nil, err
		}

		return splice(script, inst.pushStart, inst.pushEnd, push), nil

	default:
		return nil, fmt.Errorf("unknown placement %v", inst.Placement)
	}
}

// ReplaceInstanceAt replaces the index-th instance of script by fragment.
func ReplaceInstanceAt(script []byte, index int,
	fragment []byte) ([]byte, error) {

	inst, err := InstanceAt(script, index).UnwrapOrErr(
		fmt.Errorf("%w %d", ErrNoInstance, index),
	)
	if err != nil {
		return nil, err
	}

	return ReplaceInstance(script, inst, fragment)
}
