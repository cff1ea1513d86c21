// Command keygen generates the RSA key pair the signing server loads at
// startup and writes it as PEM files.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/imagesigner/internal/filex"
	"github.com/dmitrijs2005/imagesigner/internal/sigkey"
)

func main() {

	var dirName string
	var bits int
	flag.StringVar(&dirName, "o", "keys", "output directory for the PEM files")
	flag.IntVar(&bits, "b", 2048, "RSA key size in bits")
	flag.Parse()

	dir, err := filex.EnsureSubdDir(dirName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	keys, err := sigkey.Generate(bits)
	if err != nil {
		log.Fatalf("generating key pair: %v", err)
	}

	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	if err := os.WriteFile(privPath, keys.EncodePrivatePEM(), 0o600); err != nil {
		log.Fatalf("writing %s: %v", privPath, err)
	}

	pub, err := keys.EncodePublicPEM()
	if err != nil {
		log.Fatalf("encoding public key: %v", err)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		log.Fatalf("writing %s: %v", pubPath, err)
	}

	log.Printf("wrote %s and %s", privPath, pubPath)
}
