package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"p2plend/cmd/internal/passphrase"
	"p2plend/config"
	"p2plend/crypto"
)

const passphraseEnv = "LEND_PASSPHRASE"

var rpcEndpoint = defaultRPCEndpoint() // overridden by RPC_URL or --rpc
var rpcAuthToken = os.Getenv(config.EnvRPCToken)

// newPassphraseSource is swapped in tests.
var newPassphraseSource = func() *passphrase.Source {
	return passphrase.NewSource(passphraseEnv, "Enter keystore passphrase: ")
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 1
	}
	rest := args[1:]
	switch args[0] {
	case "keys":
		return runKeysCommand(rest, stdout, stderr)
	case "kernel-hash":
		return runKernelHashCommand(rest, stdout, stderr)
	case "position-hash":
		return runPositionHashCommand(rest, stdout, stderr)
	case "sign-kernel":
		return runSignKernelCommand(rest, stdout, stderr)
	case "wrangler-approve":
		return runWranglerApproveCommand(rest, stdout, stderr)
	case "owed":
		return runOwedCommand(rest, stdout, stderr)
	case "submit":
		return runSubmitCommand(rest, stdout, stderr)
	case "query":
		return runQueryCommand(rest, stdout, stderr)
	case "export-events":
		return runExportEventsCommand(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	} `json:"error"`
}

// callRPC issues a JSON-RPC request with a single parameter object. A nil
// param sends no parameters.
func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		req["params"] = []interface{}{param}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := doRPCRequest(payload, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		if len(decoded.Error.Data) > 0 {
			return nil, fmt.Errorf("%s: %s (code %d, %s)", method, decoded.Error.Message, decoded.Error.Code, decoded.Error.Data)
		}
		return nil, fmt.Errorf("%s: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	return decoded.Result, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && strings.TrimSpace(rpcAuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", path, err)
	}
	return key, nil
}

// readJSONFile decodes path into out, rejecting unknown fields. "-" reads
// stdin.
func readJSONFile(path string, out interface{}) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) {
	var buf bytes.Buffer
	switch raw := v.(type) {
	case json.RawMessage:
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			fmt.Fprintln(w, string(raw))
			return
		}
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintln(w, err)
			return
		}
		buf.Write(data)
	}
	fmt.Fprintln(w, buf.String())
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: lend-cli [--rpc <url>] <command> [options]

Commands:
  keys new [--light] <keystore>              Generate a key and write an encrypted keystore
  keys show <keystore>                       Print the keystore address
  kernel-hash [--protocol <addr>] <file>     Hash a kernel description (JSON)
  position-hash [--protocol <addr>] <file>   Hash position creation terms (JSON)
  sign-kernel --key <keystore> [--protocol <addr>] <file>
                                             Sign a kernel as its creator
  wrangler-approve --key <keystore> [--protocol <addr>] <file>
                                             Approve position terms as wrangler
  owed <filled> <dailyRate> <durationSeconds>
                                             Compute the amount owed at close
  submit --key <keystore> --type <name> <payload>
                                             Sign and submit a transaction
  query <method> [params-json]               Call a read-only RPC method
  export-events --out <file> [--from <height>]
                                             Export the event journal to Parquet

Hash fields such as a kernel salt must be 0x followed by exactly 64 hex
digits; shorter values are rejected, not padded.

Keystore passphrases are read from LEND_PASSPHRASE or prompted. Transaction
submission sends LEND_RPC_TOKEN as a bearer token when set.`)
}
