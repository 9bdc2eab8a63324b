package decoder

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Decodificação dos eventos emitidos pelo programa de loteria. O programa
// publica eventos no padrão anchor: linha "Program data: <base64>", payload =
// discriminator de 8 bytes (sha256("event:"+Nome)[:8]) + campos em borsh.
// Decodificação é pura: nenhuma I/O, ordem das linhas preservada.

type Kind string

const (
	KindPotCreated      Kind = "PotCreated"
	KindTicketBought    Kind = "TicketBought"
	KindPayoutFulfilled Kind = "PayoutFulfilled"
)

const programDataPrefix = "Program data: "

// PotCreated: criação de um novo pot pelo programa.
// A ordem dos campos segue o IDL do programa (borsh é posicional).
type PotCreated struct {
	Pot            solana.PublicKey
	Authority      solana.PublicKey
	Mint           solana.PublicKey
	Vault          solana.PublicKey
	TicketPrice    uint64
	TicketCapacity uint64
}

// TicketBought: compra de um ticket. TicketsSold é o índice do ticket dentro
// da rodada corrente (1-based, monotônico até a capacidade).
type TicketBought struct {
	Pot            solana.PublicKey
	Buyer          solana.PublicKey
	TicketsSold    uint64
	TicketCapacity uint64
}

// PayoutFulfilled: confirmação on-chain do pagamento de uma rodada.
type PayoutFulfilled struct {
	Pot    solana.PublicKey
	Winner solana.PublicKey
	Round  uint64
}

// Event é a variante fechada: Kind indica qual ponteiro está preenchido.
type Event struct {
	Kind            Kind
	PotCreated      *PotCreated
	TicketBought    *TicketBought
	PayoutFulfilled *PayoutFulfilled
}

// DecodeError marca uma linha com discriminator reconhecido mas payload
// inválido. O chamador loga e segue; nunca derruba o loop de ingestão.
type DecodeError struct {
	Kind Kind
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func eventDiscriminator(name string) [8]byte {
	h := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], h[:8])
	return d
}

var (
	discPotCreated      = eventDiscriminator(string(KindPotCreated))
	discTicketBought    = eventDiscriminator(string(KindTicketBought))
	discPayoutFulfilled = eventDiscriminator(string(KindPayoutFulfilled))
)

// DecodeLogs converte as linhas de log de uma transação em eventos tipados.
// Linhas estranhas ao programa (sem prefixo, base64 inválido, discriminator
// desconhecido) são ignoradas. Payload malformado de um evento conhecido vira
// DecodeError, preservando a posição relativa dos demais eventos.
func DecodeLogs(logs []string) ([]Event, []*DecodeError) {
	var out []Event
	var errs []*DecodeError

	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil || len(raw) < 8 {
			continue
		}

		var disc [8]byte
		copy(disc[:], raw[:8])
		payload := raw[8:]

		switch disc {
		case discPotCreated:
			var ev PotCreated
			if err := bin.NewBorshDecoder(payload).Decode(&ev); err != nil {
				errs = append(errs, &DecodeError{Kind: KindPotCreated, Line: line, Err: err})
				continue
			}
			out = append(out, Event{Kind: KindPotCreated, PotCreated: &ev})
		case discTicketBought:
			var ev TicketBought
			if err := bin.NewBorshDecoder(payload).Decode(&ev); err != nil {
				errs = append(errs, &DecodeError{Kind: KindTicketBought, Line: line, Err: err})
				continue
			}
			out = append(out, Event{Kind: KindTicketBought, TicketBought: &ev})
		case discPayoutFulfilled:
			var ev PayoutFulfilled
			if err := bin.NewBorshDecoder(payload).Decode(&ev); err != nil {
				errs = append(errs, &DecodeError{Kind: KindPayoutFulfilled, Line: line, Err: err})
				continue
			}
			out = append(out, Event{Kind: KindPayoutFulfilled, PayoutFulfilled: &ev})
		}
	}

	return out, errs
}

// EncodeEvent gera a linha "Program data: ..." de um evento. Usado pelo
// chain-simulator e pelos testes; o caminho de produção só decodifica.
func EncodeEvent(ev interface{}) (string, error) {
	var disc [8]byte
	switch ev.(type) {
	case PotCreated, *PotCreated:
		disc = discPotCreated
	case TicketBought, *TicketBought:
		disc = discTicketBought
	case PayoutFulfilled, *PayoutFulfilled:
		disc = discPayoutFulfilled
	default:
		return "", fmt.Errorf("unknown event type %T", ev)
	}

	buf := new(strings.Builder)
	payload, err := bin.MarshalBorsh(ev)
	if err != nil {
		return "", err
	}
	raw := append(disc[:], payload...)
	buf.WriteString(programDataPrefix)
	buf.WriteString(base64.StdEncoding.EncodeToString(raw))
	return buf.String(), nil
}
