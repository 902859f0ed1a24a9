package sigma

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sigmaproto/sigma/sigscript"
)

// outpointSize is the size of a serialized outpoint: txid and LE index.
const outpointSize = chainhash.HashSize + 4

// inputHash returns the SHA-256 of the outpoint spent by input vin. Inputs
// that do not exist yet, or whose previous txid is still unset, are hashed as
// 32 zero bytes.
func inputHash(tx *wire.MsgTx, vin uint32) chainhash.Hash {
	if int(vin) >= len(tx.TxIn) ||
		tx.TxIn[vin].PreviousOutPoint.Hash == (chainhash.Hash{}) {

		log.Debugf("Input %d of %d not populated, binding signature to "+
			"dummy outpoint", vin, len(tx.TxIn))

		var zero [chainhash.HashSize]byte
		return chainhash.HashH(zero[:])
	}

	op := tx.TxIn[vin].PreviousOutPoint

	var b [outpointSize]byte
	copy(b[:chainhash.HashSize], op.Hash[:])
	binary.LittleEndian.PutUint32(b[chainhash.HashSize:], op.Index)

	return chainhash.HashH(b[:])
}

// dataHash returns the SHA-256 of the script content preceding instance, or
// of the whole script if there is no such instance.
func dataHash(script []byte, instance uint32) chainhash.Hash {
	return chainhash.HashH(
		sigscript.PrefixBeforeInstance(script, int(instance)),
	)
}

// messageHash combines the two sub-hashes into the signed digest.
func messageHash(input, data chainhash.Hash) chainhash.Hash {
	var b [2 * chainhash.HashSize]byte
	copy(b[:chainhash.HashSize], input[:])
	copy(b[chainhash.HashSize:], data[:])

	return chainhash.HashH(b[:])
}

// InputHash returns the cached hash of the reference input's outpoint.
func (s *Sigma) InputHash() (chainhash.Hash, error) {
	if s.tx == nil {
		return chainhash.Hash{}, ErrNoTransaction
	}

	return s.inputHash.UnwrapOrErr(ErrMissingState)
}

// DataHash returns the cached hash of the script content the selected
// instance commits to.
func (s *Sigma) DataHash() (chainhash.Hash, error) {
	if s.tx == nil {
		return chainhash.Hash{}, ErrNoTransaction
	}

	return s.dataHash.UnwrapOrErr(ErrMissingState)
}

// MessageHash returns SHA256(inputHash || dataHash), the digest a signature
// on the selected instance is made over.
func (s *Sigma) MessageHash() (chainhash.Hash, error) {
	input, err := s.inputHash.UnwrapOrErr(ErrMissingState)
	if err != nil {
		return chainhash.Hash{}, err
	}
	data, err := s.dataHash.UnwrapOrErr(ErrMissingState)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return messageHash(input, data), nil
}
