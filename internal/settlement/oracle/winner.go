package oracle

import (
	"encoding/binary"
	"fmt"
)

// WinnerIndex interpreta os 8 primeiros bytes do fulfillment como uint64
// little-endian e reduz módulo o número de compradores. A lista de
// compradores deve estar ordenada por ticket_index ascendente.
//
// A redução por módulo tem um viés (desprezível para capacidades grandes)
// a favor de índices baixos quando buyers não divide 2^64. O viés é herdado
// do jogo em produção e mantido: corrigir mudaria a semântica de fairness.
func WinnerIndex(randomness []byte, buyers int) (int, error) {
	if buyers <= 0 {
		return 0, fmt.Errorf("winner selection with %d buyers", buyers)
	}
	if len(randomness) < 8 {
		return 0, fmt.Errorf("randomness too short: %d bytes", len(randomness))
	}
	r := binary.LittleEndian.Uint64(randomness[:8])
	return int(r % uint64(buyers)), nil
}
