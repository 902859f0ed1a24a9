package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sigmaproto/sigma/sigma"
	"github.com/sigmaproto/sigma/sigscript"
	"github.com/urfave/cli"
)

// recipientFlag supplies the key of a recipient restricted signature.
var recipientFlag = cli.StringFlag{
	Name:  "recipientkey",
	Usage: "the WIF key of the recipient of an ALT signature",
}

// ErrRecordedVinRange is returned when an instance records an input index
// that does not fit a reference input.
var ErrRecordedVinRange = errors.New("recorded vin out of range")

// recordedRefVin converts the input index recorded in an instance into a
// reference input. Indexes above math.MaxInt32 would wrap into the self
// reference.
func recordedRefVin(vin uint32) (int32, error) {
	if vin > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", ErrRecordedVinRange, vin)
	}

	return int32(vin), nil
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Category:  "Verification",
	Usage:     "Verify a signature instance of a transaction output.",
	ArgsUsage: "[tx]",
	Description: `
	Verifies the selected signature instance of the output. Unless --refvin
	is given, the input recorded in the instance is used.
	`,
	Flags:  append([]cli.Flag{recipientFlag}, txFlags...),
	Action: actionDecorator(verify),
}

// verifyOptions builds the verify options from the --recipientkey flag.
func verifyOptions(ctx *cli.Context) ([]sigma.VerifyOption, error) {
	if !ctx.IsSet(recipientFlag.Name) {
		return nil, nil
	}

	key, err := parseKey(ctx.String(recipientFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid recipient key: %w", err)
	}

	return []sigma.VerifyOption{sigma.WithRecipientKey(key)}, nil
}

func verify(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	opts, err := verifyOptions(ctx)
	if err != nil {
		return err
	}

	s, _, err := newContext(ctx, cfg)
	if err != nil {
		return err
	}

	sig, err := s.Sig().UnwrapOrErr(sigma.ErrNoSignature)
	if err != nil {
		return fmt.Errorf("vout %d instance %d: %w", s.TargetVout(),
			s.SigmaInstance(), err)
	}

	if !ctx.IsSet("refvin") {
		refVin, err := recordedRefVin(sig.Vin)
		if err != nil {
			return fmt.Errorf("vout %d instance %d: %w",
				s.TargetVout(), s.SigmaInstance(), err)
		}
		if err := s.SetRefVin(refVin); err != nil {
			return err
		}
	}

	valid, err := s.Verify(opts...)
	if err != nil {
		return err
	}

	resp := newSigResp(int(s.SigmaInstance()), sig)
	resp.Valid = &valid

	return printJSON(ctx, resp)
}

var inspectCommand = cli.Command{
	Name:      "inspect",
	Category:  "Verification",
	Usage:     "List the signature instances of a transaction.",
	ArgsUsage: "[tx]",
	Description: `
	Lists every signature instance found in the outputs of the transaction
	and verifies each against the input it records. If --vout is set only
	that output is inspected. With --table the instances are printed as a
	table instead of JSON.
	`,
	Flags: append([]cli.Flag{
		recipientFlag,
		cli.BoolFlag{
			Name:  "table",
			Usage: "print the instances as a table",
		},
	}, txFlags...),
	Action: actionDecorator(inspect),
}

// outputResp describes the instances of a single output.
type outputResp struct {
	Vout      uint32     `json:"vout"`
	Asm       string     `json:"asm"`
	Instances []*sigResp `json:"instances"`
}

func inspect(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	opts, err := verifyOptions(ctx)
	if err != nil {
		return err
	}

	tx, _, err := parseTx(ctx)
	if err != nil {
		return err
	}

	params, err := cfg.NetParams()
	if err != nil {
		return err
	}

	outputs := make([]*outputResp, 0, len(tx.TxOut))
	for vout, txOut := range tx.TxOut {
		if ctx.IsSet("vout") && uint64(vout) != ctx.Uint64("vout") {
			continue
		}

		insts := sigscript.ParseInstances(txOut.PkScript)
		if len(insts) == 0 {
			continue
		}

		asm, err := sigscript.ASM(txOut.PkScript)
		if err != nil {
			cliLog.Warnf("Unable to disassemble vout %d: %v", vout,
				err)
		}

		out := &outputResp{
			Vout:      uint32(vout),
			Asm:       asm,
			Instances: make([]*sigResp, 0, len(insts)),
		}
		for i, inst := range insts {
			resp := newSigResp(i, inst.Sig(uint32(vout)))
			resp.Placement = inst.Placement.String()

			refVin, err := recordedRefVin(inst.Vin)
			if err != nil {
				cliLog.Debugf("Instance %d of vout %d not "+
					"verifiable: %v", i, vout, err)

				valid := false
				resp.Valid = &valid
				out.Instances = append(out.Instances, resp)

				continue
			}

			s, err := sigma.New(
				tx, uint32(vout), uint32(i), refVin,
				sigma.WithChainParams(params),
			)
			if err != nil {
				return err
			}

			valid, err := s.Verify(opts...)
			if err != nil {
				cliLog.Debugf("Instance %d of vout %d not "+
					"verifiable: %v", i, vout, err)
			}
			resp.Valid = &valid

			out.Instances = append(out.Instances, resp)
		}

		outputs = append(outputs, out)
	}

	if ctx.Bool("table") {
		printInstanceTable(ctx, outputs)
		return nil
	}

	return printJSON(ctx, outputs)
}

// printInstanceTable writes one table row per inspected instance to the app's
// writer.
func printInstanceTable(ctx *cli.Context, outputs []*outputResp) {
	tw := table.NewWriter()
	tw.SetOutputMirror(ctx.App.Writer)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{
		"Vout", "Instance", "Placement", "Algorithm", "Address", "Vin",
		"Valid",
	})

	for _, out := range outputs {
		for _, inst := range out.Instances {
			valid := inst.Valid != nil && *inst.Valid
			tw.AppendRow(table.Row{
				out.Vout, inst.Instance, inst.Placement,
				inst.Algorithm, inst.Address, inst.Vin, valid,
			})
		}
	}

	tw.Render()
}
