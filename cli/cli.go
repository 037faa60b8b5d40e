package cli

/*
cfsmime is the command line tool to manage an S/MIME certificate database,
sign, verify, encrypt and decrypt CMS messages, and DKIM sign mail.

Usage:
	cfsmime command [-flags] arguments

The commands are defined in the cli subpackages and include

	import     imports certificates, keys and PKCS #12 files
	export     exports certificates as PEM or PKCS #12
	crl        imports a CRL from a file or distribution point
	gencrl     generates a CRL from a list of serial numbers
	sign       signs content for a mailbox
	verify     verifies a signed message
	encrypt    encrypts content for mailboxes
	decrypt    decrypts an enveloped message
	dkimsign   adds a DKIM signature or an ARC set to a message
	dkimverify verifies the DKIM signatures and ARC chain of a message
	serve      starts the HTTP API server
	version    prints the current cfsmime version

Use "cfsmime [command] -help" to find out more about a command.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cloudflare/cfsmime/config"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/smime"
)

// Command holds the implementation details of a cfsmime command.
type Command struct {
	// The Usage Text
	UsageText string
	// Flags to look up in the global table
	Flags []string
	// Main runs the command, args are the arguments after flags
	Main func(args []string, c Config) error
}

// Config is a type to hold flag values used by cfsmime commands.
type Config struct {
	ConfigFile  string
	CFG         *config.Config
	Password    string
	Trusted     bool
	Detached    bool
	ContentFile string
	PEM         bool
	Fingerprint string
	CAFile      string
	CAKeyFile   string
	Expiry      string
	Number      int64
	Domain      string
	Selector    string
	KeyFile     string
	Identifier  string
	Headers     string
	AuthServID  string
	Expiration  string
	Address     string
	Port        int
}

// Parsed command name
var cmdName string

// Output receives everything commands print.
var Output io.Writer = os.Stdout

// registerFlags defines all cfsmime command flags and associates their values with variables.
func registerFlags(c *Config, f *flag.FlagSet) {
	f.StringVar(&c.ConfigFile, "config", "", "path to configuration file; without one an in-memory database is used")
	f.StringVar(&c.Password, "password", "", "PKCS #12 password")
	f.BoolVar(&c.Trusted, "trusted", false, "import self-signed certificates as trust anchors")
	f.BoolVar(&c.Detached, "detached", false, "produce a detached signature")
	f.StringVar(&c.ContentFile, "content", "", "content file of a detached signature")
	f.BoolVar(&c.PEM, "pem", false, "read and write CMS messages in PEM form")
	f.StringVar(&c.Fingerprint, "fingerprint", "", "SHA-1 fingerprint of the certificate to export")
	f.StringVar(&c.CAFile, "ca", "ca.pem", "CA certificate issuing the CRL")
	f.StringVar(&c.CAKeyFile, "ca-key", "ca-key.pem", "CA private key")
	f.StringVar(&c.Expiry, "expiry", "0", "seconds until the CRL expires, one week when 0")
	f.Int64Var(&c.Number, "number", 1, "CRL number")
	f.StringVar(&c.Domain, "domain", "", "signing domain")
	f.StringVar(&c.Selector, "selector", "", "DKIM selector")
	f.StringVar(&c.KeyFile, "key", "", "PEM private key")
	f.StringVar(&c.Identifier, "identifier", "", "DKIM agent or user identifier (i=)")
	f.StringVar(&c.Headers, "headers", "", "comma separated header fields to sign")
	f.StringVar(&c.AuthServID, "authserv-id", "", "add an ARC set as this authentication service")
	f.StringVar(&c.Expiration, "expiration", "", "signature lifetime, such as 72h")
	f.StringVar(&c.Address, "address", "127.0.0.1", "Address to bind")
	f.IntVar(&c.Port, "port", 8888, "Port to bind")
}

// usage is the cfsmime usage heading. It will be appended with names of defined commands in cmds
// to form the final usage message of cfsmime.
const usage = `Usage:
Available commands:
`

// printDefaultValue is a helper function to print out a user friendly
// usage message of a flag. It's useful since we want to write customized
// usage message on selected subsets of the global flag set. It is
// borrowed from standard library source code. Since flag value type is
// not exported, default string flag values are printed without
// quotes. The only exception is the empty string, which is printed as "".
func printDefaultValue(f *flag.Flag) {
	format := "  -%s=%s: %s\n"
	if f.DefValue == "" {
		format = "  -%s=%q: %s\n"
	}
	fmt.Fprintf(os.Stderr, format, f.Name, f.DefValue, f.Usage)
}

// PopFirstArgument returns the first element and the rest of a string
// slice and return error if failed to do so. It is a helper function
// to parse non-flag arguments previously used in cfsmime commands.
func PopFirstArgument(args []string) (string, []string, error) {
	if len(args) < 1 {
		return "", nil, errors.New("not enough arguments are supplied --- please refer to the usage")
	}
	return args[0], args[1:], nil
}

// Start is the entrance point of cfsmime command line tools.
func Start(cmds map[string]*Command) {
	// cfsmimeFlagSet is the flag sets for cfsmime.
	var cfsmimeFlagSet = flag.NewFlagSet("cfsmime", flag.ExitOnError)
	var c Config

	registerFlags(&c, cfsmimeFlagSet)
	// Initial parse of command line arguments. By convention, only -h/-help is supported.
	flag.Parse()
	if flag.Usage == nil {
		flag.Usage = func() {
			fmt.Fprint(os.Stderr, usage)
			names := make([]string, 0, len(cmds))
			for name := range cmds {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(os.Stderr, "%s\n", name)
			}
		}
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "No command is given.\n")
		flag.Usage()
		return
	}

	// Clip out the command name and args for the command
	cmdName = flag.Arg(0)
	args := flag.Args()[1:]
	cmd, found := cmds[cmdName]
	if !found {
		fmt.Fprintf(os.Stderr, "Command %s is not defined.\n", cmdName)
		flag.Usage()
		return
	}
	// The usage of each individual command is re-written to mention
	// flags defined and referenced only in that command.
	cfsmimeFlagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s", cmd.UsageText)
		for _, name := range cmd.Flags {
			if f := cfsmimeFlagSet.Lookup(name); f != nil {
				printDefaultValue(f)
			}
		}
	}

	// Parse all flags and take the rest as argument lists for the command
	cfsmimeFlagSet.Parse(args)
	args = cfsmimeFlagSet.Args()

	if c.ConfigFile != "" {
		var err error
		c.CFG, err = config.LoadFile(c.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cmd.Main(args, c); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ReadStdin reads from stdin if the file is "-"
func ReadStdin(filename string) ([]byte, error) {
	if filename == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(filename)
}

// OpenContext opens the secure MIME context the configuration selects.
func OpenContext(ctx context.Context, c Config) (*smime.Context, error) {
	cfg := c.CFG
	if cfg == nil {
		log.Info("no configuration file, using an in-memory database")
		cfg = config.DefaultConfig()
	}
	return smime.New(ctx, cfg)
}

// PrintJSON outputs v as JSON.
func PrintJSON(v interface{}) error {
	jsonOut, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(Output, "%s\n", jsonOut)
	return err
}

const cmsPEMType = "PKCS7"

// DecodeMessage returns the DER encoding of a CMS message that may be
// PEM encoded.
func DecodeMessage(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		return data, nil
	}
	block, _ := pem.Decode(trimmed)
	if block == nil {
		return nil, cferr.Wrap(cferr.ArgumentError, cferr.DecodeFailed, errors.New("malformed PEM message"))
	}
	return block.Bytes, nil
}

// PrintMessage outputs a CMS message, PEM encoded if asPEM is set.
func PrintMessage(der []byte, asPEM bool) error {
	if asPEM {
		return pem.Encode(Output, &pem.Block{Type: cmsPEMType, Bytes: der})
	}
	_, err := Output.Write(der)
	return err
}
