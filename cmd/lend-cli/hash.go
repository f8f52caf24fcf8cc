package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"p2plend/core"
	"p2plend/crypto"
	"p2plend/native/lending"
)

// Hashes are computed offline when --protocol is given and by the node
// otherwise, so the protocol address always matches the ledger's.

func kernelHash(path, protocol string) (common.Hash, error) {
	var fields core.KernelFields
	if err := readJSONFile(path, &fields); err != nil {
		return common.Hash{}, err
	}
	if strings.TrimSpace(protocol) != "" {
		addr, err := crypto.ParseAddress(protocol)
		if err != nil {
			return common.Hash{}, fmt.Errorf("protocol: %w", err)
		}
		kernel, err := fields.Kernel()
		if err != nil {
			return common.Hash{}, err
		}
		return lending.KernelHash(addr, kernel), nil
	}
	return remoteHash("lend_kernelHash", fields)
}

func positionHash(path, protocol string) (common.Hash, error) {
	var fields core.PositionFields
	if err := readJSONFile(path, &fields); err != nil {
		return common.Hash{}, err
	}
	if strings.TrimSpace(protocol) != "" {
		addr, err := crypto.ParseAddress(protocol)
		if err != nil {
			return common.Hash{}, fmt.Errorf("protocol: %w", err)
		}
		pos, err := fields.Position()
		if err != nil {
			return common.Hash{}, err
		}
		return lending.PositionHash(addr, pos), nil
	}
	return remoteHash("lend_positionHash", fields)
}

func remoteHash(method string, param interface{}) (common.Hash, error) {
	raw, err := callRPC(method, param, false)
	if err != nil {
		return common.Hash{}, err
	}
	var out struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return common.Hash{}, err
	}
	return core.ParseHashField("hash", out.Hash)
}

type hashFlags struct {
	fs       *flag.FlagSet
	protocol *string
	key      *string
}

func newHashFlags(name string, withKey bool) *hashFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	h := &hashFlags{fs: fs, protocol: fs.String("protocol", "", "Protocol address for offline hashing")}
	if withKey {
		h.key = fs.String("key", "", "Keystore of the signer")
	}
	return h
}

func runKernelHashCommand(args []string, stdout, stderr io.Writer) int {
	h := newHashFlags("kernel-hash", false)
	if err := h.fs.Parse(args); err != nil || h.fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: kernel-hash [--protocol <addr>] <kernel.json>")
		return 1
	}
	hash, err := kernelHash(h.fs.Arg(0), *h.protocol)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash.Hex())
	return 0
}

func runPositionHashCommand(args []string, stdout, stderr io.Writer) int {
	h := newHashFlags("position-hash", false)
	if err := h.fs.Parse(args); err != nil || h.fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: position-hash [--protocol <addr>] <position.json>")
		return 1
	}
	hash, err := positionHash(h.fs.Arg(0), *h.protocol)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash.Hex())
	return 0
}

// runSignKernelCommand prints the creator signature over a kernel hash.
func runSignKernelCommand(args []string, stdout, stderr io.Writer) int {
	h := newHashFlags("sign-kernel", true)
	if err := h.fs.Parse(args); err != nil || h.fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: sign-kernel --key <keystore> [--protocol <addr>] <kernel.json>")
		return 1
	}
	key, err := loadKey(*h.key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hash, err := kernelHash(h.fs.Arg(0), *h.protocol)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, map[string]string{"hash": hash.Hex(), "signer": key.Address().Hex(), "signature": hexutil.Encode(sig)})
	return 0
}

// runWranglerApproveCommand prints the wrangler's prefixed signature over
// position terms.
func runWranglerApproveCommand(args []string, stdout, stderr io.Writer) int {
	h := newHashFlags("wrangler-approve", true)
	if err := h.fs.Parse(args); err != nil || h.fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: wrangler-approve --key <keystore> [--protocol <addr>] <position.json>")
		return 1
	}
	key, err := loadKey(*h.key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hash, err := positionHash(h.fs.Arg(0), *h.protocol)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := crypto.SignPrefixed(hash, key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, map[string]string{"hash": hash.Hex(), "wrangler": key.Address().Hex(), "signature": hexutil.Encode(sig)})
	return 0
}

func runOwedCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: owed <filled> <dailyRate> <durationSeconds>")
		return 1
	}
	filled, err := core.ParseAmountField("filled", args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	rate, err := core.ParseAmountField("dailyRate", args[1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	duration, err := strconv.ParseUint(strings.TrimSpace(args[2]), 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid duration: %v\n", err)
		return 1
	}
	owed, err := lending.OwedValue(filled, rate, duration)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, owed.Dec())
	return 0
}
