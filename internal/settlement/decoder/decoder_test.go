package decoder

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func mustLine(t *testing.T, ev interface{}) string {
	t.Helper()
	line, err := EncodeEvent(ev)
	require.NoError(t, err)
	return line
}

func TestDecodeLogs_TypedEventsInOrder(t *testing.T) {
	pot := solana.NewWallet().PublicKey()
	buyer := solana.NewWallet().PublicKey()

	logs := []string{
		"Program 7Xp6kGq1... invoke [1]",
		mustLine(t, PotCreated{
			Pot:            pot,
			Authority:      solana.NewWallet().PublicKey(),
			Mint:           solana.NewWallet().PublicKey(),
			Vault:          solana.NewWallet().PublicKey(),
			TicketPrice:    10,
			TicketCapacity: 3,
		}),
		"Program log: Instruction: BuyTicket",
		mustLine(t, TicketBought{Pot: pot, Buyer: buyer, TicketsSold: 1, TicketCapacity: 3}),
		"Program 7Xp6kGq1... success",
	}

	evs, errs := DecodeLogs(logs)
	require.Empty(t, errs)
	require.Len(t, evs, 2)

	require.Equal(t, KindPotCreated, evs[0].Kind)
	require.Equal(t, pot, evs[0].PotCreated.Pot)
	require.EqualValues(t, 3, evs[0].PotCreated.TicketCapacity)

	require.Equal(t, KindTicketBought, evs[1].Kind)
	require.Equal(t, buyer, evs[1].TicketBought.Buyer)
	require.EqualValues(t, 1, evs[1].TicketBought.TicketsSold)
}

func TestDecodeLogs_SkipsForeignLines(t *testing.T) {
	logs := []string{
		"Program ComputeBudget111111111111111111111111111111 invoke [1]",
		"Program data: !!!not-base64!!!",
		"Program data: " + base64.StdEncoding.EncodeToString([]byte("curto")), // < 8 bytes
		// discriminator desconhecido
		"Program data: " + base64.StdEncoding.EncodeToString([]byte("12345678desconhecido")),
	}

	evs, errs := DecodeLogs(logs)
	require.Empty(t, evs)
	require.Empty(t, errs)
}

func TestDecodeLogs_MalformedPayloadIsLocalError(t *testing.T) {
	pot := solana.NewWallet().PublicKey()

	// discriminator válido de TicketBought com payload truncado
	disc := eventDiscriminator(string(KindTicketBought))
	bad := "Program data: " + base64.StdEncoding.EncodeToString(append(disc[:], 0x01, 0x02))

	logs := []string{
		bad,
		mustLine(t, TicketBought{Pot: pot, Buyer: solana.NewWallet().PublicKey(), TicketsSold: 2, TicketCapacity: 3}),
	}

	evs, errs := DecodeLogs(logs)

	// o erro é local: o evento seguinte do batch ainda é decodificado
	require.Len(t, errs, 1)
	require.Equal(t, KindTicketBought, errs[0].Kind)
	require.Equal(t, bad, errs[0].Line)

	require.Len(t, evs, 1)
	require.EqualValues(t, 2, evs[0].TicketBought.TicketsSold)
}

func TestDecodeLogs_RoundTripPayout(t *testing.T) {
	pot := solana.NewWallet().PublicKey()
	winner := solana.NewWallet().PublicKey()

	evs, errs := DecodeLogs([]string{mustLine(t, PayoutFulfilled{Pot: pot, Winner: winner, Round: 7})})
	require.Empty(t, errs)
	require.Len(t, evs, 1)
	require.Equal(t, KindPayoutFulfilled, evs[0].Kind)
	require.Equal(t, winner, evs[0].PayoutFulfilled.Winner)
	require.EqualValues(t, 7, evs[0].PayoutFulfilled.Round)
}
