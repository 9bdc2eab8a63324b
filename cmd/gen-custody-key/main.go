package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Gera uma chave de custódia nova e grava CUSTODY_KEY no .env (substitui a
// linha anterior, preserva o resto do arquivo)
func main() {
	envPath := ".env"
	if len(os.Args) > 1 {
		envPath = os.Args[1]
	}

	wallet := solana.NewWallet()
	encoded := wallet.PrivateKey.String()

	var lines []string
	if raw, err := os.ReadFile(envPath); err == nil {
		for _, line := range strings.Split(string(raw), "\n") {
			if strings.HasPrefix(line, "CUSTODY_KEY=") || line == "" {
				continue
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, "CUSTODY_KEY="+encoded)

	if err := os.WriteFile(envPath, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", envPath, err)
		os.Exit(1)
	}

	fmt.Printf("CUSTODY_KEY written to %s (pubkey %s)\n", envPath, wallet.PublicKey())
}
