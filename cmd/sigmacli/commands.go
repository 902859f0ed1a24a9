package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/sigcfg"
	"github.com/sigmaproto/sigma/sigma"
	"github.com/sigmaproto/sigma/sigscript"
	"github.com/urfave/cli"
)

// configKey is the app metadata key the loaded config is stored under.
const configKey = "config"

// logStateKey is the app metadata key of the log outputs.
const logStateKey = "logstate"

// psbtMagicBase64 is how the magic bytes of a base64 encoded PSBT start.
const psbtMagicBase64 = "cHNidP8"

var (
	// ErrMissingTx is returned if a command needs a transaction but none
	// was given.
	ErrMissingTx = errors.New("missing transaction")

	// ErrMissingKey is returned if a signing command has no key.
	ErrMissingKey = errors.New("missing signing key")
)

// txFlags are shared by every command operating on a signing context.
var txFlags = []cli.Flag{
	cli.StringFlag{
		Name: "tx",
		Usage: "the hex encoded transaction or base64 encoded PSBT, " +
			"may also be given as the first argument",
	},
	cli.Uint64Flag{
		Name:  "vout",
		Usage: "the output carrying the signature",
	},
	cli.Uint64Flag{
		Name:  "instance",
		Usage: "the signature instance of the output to work on",
	},
	cli.IntFlag{
		Name:  "refvin",
		Value: int(sigma.SelfRefVin),
		Usage: "the input the signature is bound to, -1 to use the " +
			"input with the same index as the output",
	},
}

// setup loads the configuration from the config file and the global flags,
// then wires up logging.
func setup(ctx *cli.Context) error {
	var args []string
	for _, name := range []string{
		"sigmadir", "network", "debuglevel", "logdir",
	} {
		if ctx.IsSet(name) {
			args = append(args, fmt.Sprintf("--%s=%s", name,
				ctx.String(name)))
		}
	}

	cfg, err := sigcfg.LoadConfig(ctx.String("configfile"), args)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	logs, err := setupLoggers(cfg, !ctx.Bool("nologfile"))
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}

	if ctx.App.Metadata == nil {
		ctx.App.Metadata = make(map[string]interface{})
	}
	ctx.App.Metadata[configKey] = cfg
	ctx.App.Metadata[logStateKey] = logs

	cliLog.Debugf("Loaded config %v for network %v", cfg.ConfigFile,
		cfg.Network)

	return nil
}

// teardown closes the log outputs opened by setup.
func teardown(ctx *cli.Context) error {
	logs, ok := ctx.App.Metadata[logStateKey].(*logState)
	if !ok {
		return nil
	}

	return logs.close()
}

// getConfig returns the config loaded by setup.
func getConfig(ctx *cli.Context) (*sigcfg.Config, error) {
	cfg, ok := ctx.App.Metadata[configKey].(*sigcfg.Config)
	if !ok {
		return nil, errors.New("config not loaded")
	}

	return cfg, nil
}

// actionDecorator shows the command help when the action fails with a usage
// error.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		err := f(c)
		if errors.Is(err, ErrMissingTx) || errors.Is(err, ErrMissingKey) {
			_ = cli.ShowCommandHelp(c, c.Command.Name)
		}

		return err
	}
}

// printJSON writes v as indented JSON to the app's writer.
func printJSON(ctx *cli.Context, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("unable to encode output: %w", err)
	}

	_, err = fmt.Fprintf(ctx.App.Writer, "%s\n", b)

	return err
}

// parseTx decodes the transaction from the --tx flag or the first argument.
// A base64 PSBT is accepted as well and returned alongside its unsigned
// transaction.
func parseTx(ctx *cli.Context) (*wire.MsgTx, fn.Option[*psbt.Packet], error) {
	noPacket := fn.None[*psbt.Packet]()

	txStr := ctx.String("tx")
	if txStr == "" {
		txStr = ctx.Args().First()
	}
	txStr = strings.TrimSpace(txStr)
	if txStr == "" {
		return nil, noPacket, ErrMissingTx
	}

	if strings.HasPrefix(txStr, psbtMagicBase64) {
		packet, err := psbt.NewFromRawBytes(
			strings.NewReader(txStr), true,
		)
		if err != nil {
			return nil, noPacket, fmt.Errorf("unable to decode "+
				"PSBT: %w", err)
		}

		return packet.UnsignedTx, fn.Some(packet), nil
	}

	raw, err := hex.DecodeString(txStr)
	if err != nil {
		return nil, noPacket, fmt.Errorf("transaction is not hex: %w",
			err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, noPacket, fmt.Errorf("unable to decode "+
			"transaction: %w", err)
	}

	return tx, noPacket, nil
}

// serializeTx returns the hex encoding of tx.
func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// newContext creates a signing context from the transaction flags. The PSBT
// the transaction was read from, if any, is returned too.
func newContext(ctx *cli.Context, cfg *sigcfg.Config) (*sigma.Sigma,
	fn.Option[*psbt.Packet], error) {

	tx, packet, err := parseTx(ctx)
	if err != nil {
		return nil, packet, err
	}

	params, err := cfg.NetParams()
	if err != nil {
		return nil, packet, err
	}

	s, err := sigma.New(
		tx, uint32(ctx.Uint64("vout")), uint32(ctx.Uint64("instance")),
		int32(ctx.Int("refvin")), sigma.WithChainParams(params),
	)

	return s, packet, err
}

// parseKey decodes a WIF private key.
func parseKey(wif string) (*btcec.PrivateKey, error) {
	if wif == "" {
		return nil, ErrMissingKey
	}

	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF key: %w", err)
	}

	return decoded.PrivKey, nil
}

// parsePubKey decodes a hex encoded public key.
func parsePubKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", err)
	}

	return btcec.ParsePubKey(raw)
}

// sigResp is the JSON form of a signature record.
type sigResp struct {
	Instance   int    `json:"instance"`
	Algorithm  string `json:"algorithm"`
	Address    string `json:"address"`
	Signature  string `json:"signature"`
	Vin        uint32 `json:"vin"`
	TargetVout uint32 `json:"target_vout"`
	Placement  string `json:"placement,omitempty"`
	Valid      *bool  `json:"valid,omitempty"`
}

func newSigResp(index int, sig sigscript.Sig) *sigResp {
	return &sigResp{
		Instance:   index,
		Algorithm:  string(sig.Algorithm),
		Address:    sig.Address,
		Signature:  sig.Base64(),
		Vin:        sig.Vin,
		TargetVout: sig.TargetVout,
	}
}

// signResp is printed by the signing commands. Psbt is only set if the
// transaction was given as a PSBT.
type signResp struct {
	Tx       string   `json:"tx"`
	TxID     string   `json:"txid"`
	Psbt     string   `json:"psbt,omitempty"`
	Fragment string   `json:"fragment"`
	Sig      *sigResp `json:"sig"`
}

// newSignResp builds the output of a signing command. If the input was a
// PSBT, its unsigned transaction is swapped for the signed one.
func newSignResp(res *sigma.SignResult, instance uint32,
	packet fn.Option[*psbt.Packet]) (*signResp, error) {

	txHex, err := serializeTx(res.Tx)
	if err != nil {
		return nil, err
	}

	resp := &signResp{
		Tx:       txHex,
		TxID:     res.Tx.TxHash().String(),
		Fragment: hex.EncodeToString(res.Fragment),
		Sig:      newSigResp(int(instance), res.Sig),
	}

	err = fn.MapOptionZ(packet, func(p *psbt.Packet) error {
		p.UnsignedTx = res.Tx

		b64, err := p.B64Encode()
		if err != nil {
			return fmt.Errorf("unable to encode PSBT: %w", err)
		}
		resp.Psbt = b64

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
