// Package main generates the self-signed webhook certificate and key,
// writing them under the "certs" directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/atinyakov/GophRelay/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run parses args and writes <dir>/webhook.crt and <dir>/webhook.key.
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	fs.SetOutput(out)
	host := fs.String("host", "localhost", "public host name or IP of the webhook")
	dir := fs.String("dir", "certs", "output directory")
	days := fs.Int("days", 365, "validity in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("days must be positive, got %d", *days)
	}

	certPEM, keyPEM, err := certgen.GenerateSelfSigned(*host, time.Duration(*days)*24*time.Hour)
	if err != nil {
		return err
	}
	certPath := filepath.Join(*dir, "webhook.crt")
	keyPath := filepath.Join(*dir, "webhook.key")
	if err := certgen.WriteFiles(certPath, keyPath, certPEM, keyPEM); err != nil {
		return err
	}

	fmt.Fprintf(out, "Certificate for %s written to %s and %s\n", *host, certPath, keyPath)
	return nil
}
