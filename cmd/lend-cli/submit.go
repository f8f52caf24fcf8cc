package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"p2plend/core"
	"p2plend/core/types"
)

// runSubmitCommand signs a payload file with the next account nonce and
// submits it. The payload is sent as-is; the node validates its shape.
func runSubmitCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	keyPath := fs.String("key", "", "Keystore of the sender")
	typeName := fs.String("type", "", "Transaction type, e.g. fill_kernel or token_approve")
	nonceFlag := fs.Uint64("nonce", 0, "Explicit nonce (defaults to the next account nonce)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: submit --key <keystore> --type <name> [--nonce <n>] <payload.json>")
		return 1
	}
	txType, ok := types.ParseTxType(strings.TrimSpace(*typeName))
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown transaction type %q\n", *typeName)
		return 1
	}

	var payload json.RawMessage
	if err := readJSONFile(fs.Arg(0), &payload); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	nonce := *nonceFlag
	if nonce == 0 {
		current, err := fetchNonce(key.Address().Hex())
		if err != nil {
			fmt.Fprintf(stderr, "Error: fetching nonce: %v\n", err)
			return 1
		}
		nonce = current + 1
	}

	tx, err := core.NewSignedTransaction(key, txType, nonce, payload)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	raw, err := callRPC("lend_sendTransaction", tx, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, raw)

	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err == nil && !receipt.Success {
		return 2
	}
	return 0
}

func fetchNonce(address string) (uint64, error) {
	raw, err := callRPC("lend_getNonce", map[string]string{"address": address}, false)
	if err != nil {
		return 0, err
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// runQueryCommand calls any read-only method. The optional argument is the
// JSON parameter object.
func runQueryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(stderr, "Usage: query <method> [params-json]")
		return 1
	}
	method := strings.TrimSpace(args[0])
	if method == "lend_sendTransaction" {
		fmt.Fprintln(stderr, "Error: use submit to send transactions")
		return 1
	}
	var param interface{}
	if len(args) == 2 {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
			fmt.Fprintf(stderr, "Error: params must be JSON: %v\n", err)
			return 1
		}
		param = raw
	}
	result, err := callRPC(method, param, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, result)
	return 0
}
