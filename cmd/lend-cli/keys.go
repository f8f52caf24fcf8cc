package main

import (
	"flag"
	"fmt"
	"io"

	"p2plend/crypto"
)

func runKeysCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: keys <new|show> ...")
		return 1
	}
	switch args[0] {
	case "new":
		return runKeysNew(args[1:], stdout, stderr)
	case "show":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "Usage: keys show <keystore>")
			return 1
		}
		addr, err := crypto.KeystoreAddress(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Address: %s\nBech32:  %s\n", addr.Hex(), crypto.Bech32(addr))
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown keys subcommand: %s\n", args[0])
		return 1
	}
}

func runKeysNew(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keys new", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	light := fs.Bool("light", false, "Use light scrypt parameters (throwaway keys only)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: keys new [--light] <keystore>")
		return 1
	}
	path := fs.Arg(0)

	pass, err := newPassphraseSource().Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := crypto.StandardKeystore
	if *light {
		params = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystoreWithParams(path, key, pass, params); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	addr := key.Address()
	fmt.Fprintf(stdout, "Keystore: %s\nAddress:  %s\nBech32:   %s\n", path, addr.Hex(), crypto.Bech32(addr))
	return 0
}
