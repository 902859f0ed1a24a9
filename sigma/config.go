package sigma

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sigmaproto/sigma/signmsg"
)

// Config holds the collaborators of a signing context.
type Config struct {
	// ChainParams selects the network addresses are derived for.
	ChainParams *chaincfg.Params

	// Registry resolves algorithm tags to signature schemes. If nil, the
	// default registry for ChainParams is used.
	Registry signmsg.Registry

	// SlotPolicy decides between replacing and appending on sign.
	SlotPolicy SlotPolicy
}

// DefaultConfig returns a mainnet config with the default schemes and the
// OccupiedSlotPolicy.
func DefaultConfig() Config {
	return Config{
		ChainParams: &chaincfg.MainNetParams,
		SlotPolicy:  OccupiedSlotPolicy,
	}
}

// Option modifies the Config of a new context.
type Option func(*Config)

// WithChainParams sets the network addresses are derived for.
func WithChainParams(params *chaincfg.Params) Option {
	return func(c *Config) {
		c.ChainParams = params
	}
}

// WithRegistry replaces the scheme registry.
func WithRegistry(registry signmsg.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithSlotPolicy replaces the slot policy.
func WithSlotPolicy(policy SlotPolicy) Option {
	return func(c *Config) {
		c.SlotPolicy = policy
	}
}
