package sigma

import (
	"errors"

	"github.com/sigmaproto/sigma/signmsg"
)

var (
	// ErrMissingState is returned when the message hash is requested
	// before the input and data hashes have been computed.
	ErrMissingState = errors.New("input or data hash not computed")

	// ErrNoSignature is returned when verifying a context that has no
	// signature at the selected instance.
	ErrNoSignature = errors.New("no signature at selected instance")

	// ErrNoTransaction is returned when a hash is requested from a context
	// without a transaction.
	ErrNoTransaction = errors.New("no transaction")

	// ErrRecoveryMissing is returned when an ECDSA signature comes without
	// a recovery id.
	ErrRecoveryMissing = errors.New("signature has no recovery id")

	// ErrTargetOutOfRange is returned when the target output does not
	// exist in the transaction.
	ErrTargetOutOfRange = errors.New("target output out of range")

	// ErrInvalidRefVin is returned for a reference input below -1.
	ErrInvalidRefVin = errors.New("invalid reference input")

	// ErrRemoteSignatureInvalid is returned when a remote signer returns a
	// signature that does not verify for the address it claims.
	ErrRemoteSignatureInvalid = errors.New("remote signature does not " +
		"verify")

	// ErrInstanceNotEmbedded is returned when a freshly written instance
	// cannot be parsed back from the resulting script at its slot.
	ErrInstanceNotEmbedded = errors.New("instance not found after " +
		"embedding")

	// ErrUnknownAlgorithm is returned when signing or verifying with an
	// algorithm that has no registered scheme.
	ErrUnknownAlgorithm = signmsg.ErrUnknownAlgorithm
)
