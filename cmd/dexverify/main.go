// Copyright 2014 The go-dexguard Authors
// This file is part of the go-dexguard library.
//
// The go-dexguard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-dexguard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-dexguard library. If not, see <http://www.gnu.org/licenses/>.

// Command dexverify drives the register-based method verifier
// over a TOML method descriptor, the reference front end for the core that
// otherwise only ever sees a classresolver.Resolver and a dex.InstructionCursor
// built in-process by a test. Real dex-file parsing stays out of scope.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/verifier"
	"github.com/dexguard/go-dexguard/verifierdeps"
)

var (
	descriptorFlag = cli.StringFlag{
		Name:  "descriptor",
		Usage: "TOML method descriptor file to verify",
	}
	depsOutFlag = cli.StringFlag{
		Name:  "deps-out",
		Usage: "path to append RLP-encoded verifier dependency records to (optional)",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "print every recorded failure message, not just the final classification",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "abort verification after this long",
		Value: 10 * time.Second,
	}

	app = cli.NewApp()
)

func init() {
	app.Name = "dexverify"
	app.Usage = "run the register-based bytecode method verifier over a TOML method descriptor"
	app.Flags = []cli.Flag{descriptorFlag, depsOutFlag, verboseFlag, timeoutFlag}
	app.Commands = []cli.Command{verifyCommand, locksCommand, dumpPackageCommand}
	app.Action = runVerify
}

var verifyCommand = cli.Command{
	Name:   "verify",
	Usage:  "verify the [Verify] method against the [[Class]]/[[Field]]/[[Method]] world",
	Action: runVerify,
	Flags:  []cli.Flag{descriptorFlag, depsOutFlag, verboseFlag, timeoutFlag},
}

var locksCommand = cli.Command{
	Name:      "locks",
	Usage:     "report every monitor statically held at a dex-pc",
	ArgsUsage: "<dex-pc>",
	Action:    runLocks,
	Flags:     []cli.Flag{descriptorFlag, timeoutFlag},
}

var dumpPackageCommand = cli.Command{
	Name:      "dump-package",
	Usage:     "list every descriptor the resolver knows about under a package prefix",
	ArgsUsage: "<prefix>",
	Action:    runDumpPackage,
	Flags:     []cli.Flag{descriptorFlag},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadAll(ctx *cli.Context) (*classresolver.MemoryResolver, *verifier.MethodDef, *descriptorFile, error) {
	path := ctx.String(descriptorFlag.Name)
	if path == "" {
		path = ctx.GlobalString(descriptorFlag.Name)
	}
	if path == "" {
		return nil, nil, nil, fmt.Errorf("dexverify: -%s is required", descriptorFlag.Name)
	}
	d, err := loadDescriptorFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	resolver, err := buildResolver(d)
	if err != nil {
		return nil, nil, nil, err
	}
	def, err := buildMethodDef(d.Verify)
	if err != nil {
		return nil, nil, nil, err
	}
	return resolver, def, d, nil
}

func recorderFor(ctx *cli.Context) (verifierdeps.Recorder, func() error, error) {
	out := ctx.String(depsOutFlag.Name)
	if out == "" {
		out = ctx.GlobalString(depsOutFlag.Name)
	}
	if out == "" {
		return verifierdeps.NewMemoryRecorder(), func() error { return nil }, nil
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("dexverify: %w", err)
	}
	rec := verifierdeps.NewFileRecorder(f)
	closed := false
	return rec, func() error {
		if closed {
			return nil
		}
		closed = true
		if err := rec.Err(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// resolveTimeout prefers the subcommand-local flag over the app-global one,
// the same precedence cmd/gprobe/config.go applies to string/bool flags
// shared between the root app and its subcommands.
func resolveTimeout(ctx *cli.Context) time.Duration {
	if ctx.IsSet(timeoutFlag.Name) {
		return ctx.Duration(timeoutFlag.Name)
	}
	if ctx.GlobalIsSet(timeoutFlag.Name) {
		return ctx.GlobalDuration(timeoutFlag.Name)
	}
	return timeoutFlag.Value
}

func runVerify(ctx *cli.Context) error {
	resolver, def, d, err := loadAll(ctx)
	if err != nil {
		return err
	}
	rec, closeRec, err := recorderFor(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	cctx, cancel := context.WithTimeout(context.Background(), resolveTimeout(ctx))
	defer cancel()

	numTypeIndices := len(d.Class)
	res, err := verifier.VerifyMethod(cctx, def, resolver, rec, numTypeIndices)
	if err != nil {
		return fmt.Errorf("dexverify: %w", err)
	}

	log.Info("verification finished", "method", def.MethodIndex, "result", res.Kind)
	fmt.Printf("result: %s\n", res.Kind)
	if res.Kind == failsink.HardFailureKind {
		fmt.Printf("hard failure @%d: %s\n", res.HardPC, res.HardMessage)
	}
	if ctx.Bool(verboseFlag.Name) || ctx.GlobalBool(verboseFlag.Name) {
		for _, m := range res.Messages {
			fmt.Println(m.String())
		}
	}
	if err := closeRec(); err != nil {
		return fmt.Errorf("dexverify: writing dependency records: %w", err)
	}
	return nil
}

func runLocks(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("dexverify: locks: expected exactly one <dex-pc> argument")
	}
	var atPC uint32
	if _, err := fmt.Sscanf(ctx.Args().Get(0), "%d", &atPC); err != nil {
		return fmt.Errorf("dexverify: locks: invalid dex-pc %q: %w", ctx.Args().Get(0), err)
	}

	resolver, def, d, err := loadAll(ctx)
	if err != nil {
		return err
	}
	rec := verifierdeps.NewMemoryRecorder()

	cctx, cancel := context.WithTimeout(context.Background(), resolveTimeout(ctx))
	defer cancel()

	locks, err := verifier.FindLocksAtDexPC(cctx, def, resolver, rec, len(d.Class), atPC)
	if err != nil {
		return fmt.Errorf("dexverify: %w", err)
	}
	if len(locks) == 0 {
		fmt.Printf("no monitor held at dex-pc %d\n", atPC)
		return nil
	}
	for _, l := range locks {
		fmt.Printf("depth %d: entered @%d, aliased vregs %v\n", l.Depth, l.MonitorEnterDexPC, l.AliasedVRegs)
	}
	return nil
}

func runDumpPackage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("dexverify: dump-package: expected exactly one <prefix> argument")
	}
	resolver, _, _, err := loadAll(ctx)
	if err != nil {
		return err
	}
	for _, d := range resolver.DumpPackage(ctx.Args().Get(0)) {
		fmt.Println(d)
	}
	return nil
}
