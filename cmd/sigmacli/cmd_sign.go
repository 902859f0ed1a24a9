package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/remotesigner"
	"github.com/sigmaproto/sigma/sigma"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/urfave/cli"
)

var signCommand = cli.Command{
	Name:      "sign",
	Category:  "Signing",
	Usage:     "Sign an output of a transaction with a local key.",
	ArgsUsage: "[tx]",
	Description: `
	Signs the selected signature instance of the output with the given key
	and prints the resulting transaction. Depending on the slot policy the
	instance is replaced or a new instance is appended to the output script.
	`,
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  "key",
			Usage: "the WIF encoded signing key",
		},
		cli.StringFlag{
			Name:  "algorithm",
			Value: string(signmsg.AlgoECDSA),
			Usage: "the signature scheme, ECDSA or ALT",
		},
		cli.StringFlag{
			Name: "verifier",
			Usage: "hex public key the signature is restricted to, " +
				"ALT only",
		},
	}, txFlags...),
	Action: actionDecorator(sign),
}

func sign(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	key, err := parseKey(ctx.String("key"))
	if err != nil {
		return err
	}

	algo, err := signmsg.ParseAlgorithm(ctx.String("algorithm"))
	if err != nil {
		return err
	}

	opts := []sigma.SignOption{sigma.WithAlgorithm(algo)}
	if ctx.IsSet("verifier") {
		pub, err := parsePubKey(ctx.String("verifier"))
		if err != nil {
			return fmt.Errorf("invalid verifier: %w", err)
		}
		opts = append(opts, sigma.WithVerifier(pub))
	}

	s, packet, err := newContext(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := s.Sign(key, opts...)
	if err != nil {
		return err
	}

	resp, err := newSignResp(res, s.SigmaInstance(), packet)
	if err != nil {
		return err
	}

	return printJSON(ctx, resp)
}

var remoteSignCommand = cli.Command{
	Name:      "remotesign",
	Category:  "Signing",
	Usage:     "Sign an output of a transaction with a remote signer.",
	ArgsUsage: "[tx]",
	Description: `
	Has the remote signing service sign the selected signature instance of
	the output. The signer is taken from the remotesigner options of the
	config file unless --host is given. The returned signature is checked
	before it is embedded.
	`,
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Usage: "the base URL of the remote signer",
		},
		cli.StringFlag{
			Name:  "authtype",
			Usage: "where to place the auth token, header or query",
		},
		cli.StringFlag{
			Name:  "authkey",
			Usage: "the header name or query parameter of the token",
		},
		cli.StringFlag{
			Name:  "authvalue",
			Usage: "the auth token",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "timeout of the signing request",
		},
		cli.DurationFlag{
			Name: "maxclockskew",
			Usage: "reject signer responses whose timestamp is " +
				"further than this from the local time",
		},
	}, txFlags...),
	Action: actionDecorator(remoteSign),
}

// remoteSignerConfig merges the command flags into the configured remote
// signer.
func remoteSignerConfig(ctx *cli.Context) (*remotesigner.ClientConfig,
	error) {

	cfg, err := getConfig(ctx)
	if err != nil {
		return nil, err
	}

	rsCfg := cfg.RemoteSignerConfig().UnwrapOr(
		&remotesigner.ClientConfig{
			RequestTimeout: cfg.RemoteSigner.Timeout,
			MaxClockSkew:   cfg.RemoteSigner.MaxClockSkew,
		},
	)

	if ctx.IsSet("host") {
		rsCfg.Host = ctx.String("host")
	}
	if ctx.IsSet("timeout") {
		rsCfg.RequestTimeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("maxclockskew") {
		rsCfg.MaxClockSkew = ctx.Duration("maxclockskew")
	}
	if ctx.IsSet("authvalue") {
		rsCfg.AuthToken = fn.Some(remotesigner.AuthToken{
			Type:  remotesigner.AuthType(ctx.String("authtype")),
			Key:   ctx.String("authkey"),
			Value: ctx.String("authvalue"),
		})
	}

	if rsCfg.Host == "" {
		return nil, errors.New("no remote signer configured, set " +
			"remotesigner.host or --host")
	}

	return rsCfg, nil
}

func remoteSign(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	rsCfg, err := remoteSignerConfig(ctx)
	if err != nil {
		return err
	}

	client, err := remotesigner.NewClient(rsCfg)
	if err != nil {
		return err
	}

	s, packet, err := newContext(ctx, cfg)
	if err != nil {
		return err
	}

	timeout := rsCfg.RequestTimeout
	if timeout == 0 {
		timeout = remotesigner.DefaultRequestTimeout
	}
	ctxt, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := s.RemoteSign(ctxt, client)
	if err != nil {
		return err
	}

	resp, err := newSignResp(res, s.SigmaInstance(), packet)
	if err != nil {
		return err
	}

	return printJSON(ctx, resp)
}
