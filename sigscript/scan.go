package sigscript

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/signmsg"
)

// token is a single parsed opcode together with its byte range.
type token struct {
	opcode byte
	data   []byte
	start  int
	end    int
}

// tokenize splits script into tokens. On a parse error the tokens read so far
// are returned along with the error.
func tokenize(script []byte) ([]token, error) {
	var (
		toks  []token
		start int
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		end := int(tokenizer.ByteIndex())
		toks = append(toks, token{
			opcode: tokenizer.Opcode(),
			data:   tokenizer.Data(),
			start:  start,
			end:    end,
		})
		start = end
	}

	return toks, tokenizer.Err()
}

// checkScript returns ErrMalformedScript if script does not tokenize up to its
// end. Content appended to such a script would be swallowed by the truncated
// push.
func checkScript(script []byte) error {
	if _, err := tokenize(script); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}

	return nil
}

// isPush reports whether t carries its data inline.
func (t token) isPush() bool {
	return t.opcode <= txscript.OP_PUSHDATA4
}

// pushData returns the value a data push places on the stack. Small integer
// opcodes are decoded to the byte a minimal push of that value would carry.
func (t token) pushData() ([]byte, bool) {
	switch {
	case t.isPush():
		if t.data == nil {
			return []byte{}, true
		}
		return t.data, true

	case t.opcode == txscript.OP_1NEGATE:
		return []byte{0x81}, true

	case t.opcode >= txscript.OP_1 && t.opcode <= txscript.OP_16:
		return []byte{t.opcode - (txscript.OP_1 - 1)}, true
	}

	return nil, false
}

func (t token) isMarker() bool {
	return t.isPush() && string(t.data) == Marker
}

func (t token) isSeparator() bool {
	if t.opcode == txscript.OP_RETURN {
		return true
	}

	return t.isPush() && bytes.Equal(t.data, pipeSeparator)
}

// readInstance decodes the instance whose marker is toks[i]. The returned
// offsets are relative to the script toks were read from.
func readInstance(toks []token, i int) (Instance, error) {
	if i+instanceFields > len(toks) {
		return Instance{}, fmt.Errorf("only %d of %d fields present",
			len(toks)-i, instanceFields)
	}

	var fields [instanceFields - 1][]byte
	for j := range fields {
		data, ok := toks[i+1+j].pushData()
		if !ok {
			return Instance{}, fmt.Errorf("field %d is not a data "+
				"push", j+1)
		}
		fields[j] = data
	}

	vin, err := strconv.ParseUint(string(fields[3]), 10, 32)
	if err != nil {
		return Instance{}, fmt.Errorf("invalid vin %q: %w", fields[3],
			err)
	}

	// The prefix ends where the separator in front of the marker starts.
	// A marker without separator commits to everything before it.
	prefixEnd := toks[i].start
	if i > 0 && toks[i-1].isSeparator() {
		prefixEnd = toks[i-1].start
	}

	return Instance{
		Position:   i,
		Algorithm:  signmsg.Algorithm(fields[0]),
		Address:    string(fields[1]),
		Signature:  bytes.Clone(fields[2]),
		Vin:        uint32(vin),
		prefixEnd:  prefixEnd,
		fieldStart: toks[i].start,
		fieldEnd:   toks[i+instanceFields-1].end,
	}, nil
}

// scan returns every instance of script in encounter order. Inline instances
// are read from the top level tokens; the push following each OP_RETURN is
// additionally parsed as a script and searched for nested instances.
// Candidates that fail to decode are skipped.
func scan(script []byte) []Instance {
	toks, err := tokenize(script)
	if err != nil {
		log.Tracef("Script parsed up to token %d: %v", len(toks), err)
	}

	var found []Instance
	for i := 0; i < len(toks); i++ {
		tok := toks[i]

		switch {
		case tok.isMarker():
			inst, err := readInstance(toks, i)
			if err != nil {
				log.Tracef("Skipping malformed instance at "+
					"token %d: %v", i, err)
				continue
			}

			inst.Placement = PlacementInline
			inst.prefix = script[:inst.prefixEnd]
			found = append(found, inst)

			i += instanceFields - 1

		case tok.opcode == txscript.OP_RETURN:
			found = append(found, scanNested(script, toks, i)...)
		}
	}

	return found
}

// scanNested searches the payload of the push following the OP_RETURN at
// toks[i] for instances.
func scanNested(script []byte, toks []token, i int) []Instance {
	if i+1 >= len(toks) {
		return nil
	}

	carrier := toks[i+1]
	if !carrier.isPush() || len(carrier.data) == 0 || carrier.isMarker() {
		return nil
	}

	payload := carrier.data
	subToks, err := tokenize(payload)
	if err != nil {
		log.Tracef("OP_RETURN payload at token %d is not a script: %v",
			i+1, err)
		return nil
	}

	var found []Instance
	for j := 0; j < len(subToks); j++ {
		if !subToks[j].isMarker() {
			continue
		}

		inst, err := readInstance(subToks, j)
		if err != nil {
			log.Tracef("Skipping malformed nested instance at "+
				"token %d/%d: %v", i+1, j, err)
			continue
		}

		// A nested instance commits to everything before its
		// OP_RETURN plus whatever precedes it within the payload.
		prefix := make([]byte, 0, toks[i].start+inst.prefixEnd)
		prefix = append(prefix, script[:toks[i].start]...)
		prefix = append(prefix, payload[:inst.prefixEnd]...)

		inst.Placement = PlacementNested
		inst.Position = i + 1
		inst.prefix = prefix
		inst.pushStart = carrier.start
		inst.pushEnd = carrier.end
		inst.payload = payload
		found = append(found, inst)

		j += instanceFields - 1
	}

	return found
}

// ParseInstances returns all instances found in script, in encounter order.
func ParseInstances(script []byte) []Instance {
	return scan(script)
}

// CountInstances returns the number of instances found in script.
func CountInstances(script []byte) int {
	return len(scan(script))
}

// InstanceAt returns the index-th instance of script.
func InstanceAt(script []byte, index int) fn.Option[Instance] {
	instances := scan(script)
	if index < 0 || index >= len(instances) {
		return fn.None[Instance]()
	}

	return fn.Some(instances[index])
}

// FindInstancePosition returns the top level token offset of the index-th
// instance, or -1 if there is no such instance.
func FindInstancePosition(script []byte, index int) int {
	return fn.ElimOption(InstanceAt(script, index),
		func() int { return -1 },
		func(i Instance) int { return i.Position },
	)
}

// HasOpReturn reports whether script contains a top level OP_RETURN.
func HasOpReturn(script []byte) bool {
	toks, _ := tokenize(script)
	for _, tok := range toks {
		if tok.opcode == txscript.OP_RETURN {
			return true
		}
	}

	return false
}
