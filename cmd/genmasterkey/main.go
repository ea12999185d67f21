package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/harrylevesque/contactbook/internal/crypto"
	"github.com/harrylevesque/contactbook/internal/utils"
)

// CLI generates the master key that seals stored images.
type CLI struct {
	Out   string `help:"Key file to write." default:"data/master.key" type:"path" short:"o"`
	Force bool   `help:"Overwrite an existing key file. Images sealed with the old key become unreadable."`
	Print bool   `help:"Print the key instead of writing a file (for CONTACTBOOK_MASTER_KEY_HEX)."`
}

// Run writes a fresh key.
func (c *CLI) Run() error {
	return c.run(os.Stdout)
}

func (c *CLI) run(w io.Writer) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if c.Print {
		fmt.Fprintln(w, key)
		return nil
	}
	if !c.Force {
		if _, err := os.Stat(c.Out); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite (use --force)", c.Out)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := utils.EnsureParentDir(c.Out, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", c.Out, err)
	}
	fmt.Fprintf(w, "Master key written to %s\n", c.Out)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("genmasterkey"),
		kong.Description("Generate the storage master key."),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
