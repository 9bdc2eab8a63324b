package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWinnerIndex_LittleEndianModulo(t *testing.T) {
	// 0x01 em LE => 1; 1 mod 3 = 1 (vencedor B em [A,B,C])
	randomness := make([]byte, 64)
	randomness[0] = 0x01

	idx, err := WinnerIndex(randomness, 3)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestWinnerIndex_Deterministic(t *testing.T) {
	randomness := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0x00, 0x00, 0x00, 0x00}

	first, err := WinnerIndex(randomness, 7)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := WinnerIndex(randomness, 7)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestWinnerIndex_UsesOnlyFirstEightBytes(t *testing.T) {
	a := []byte{9, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF}
	b := []byte{9, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x01}

	ia, err := WinnerIndex(a, 5)
	require.NoError(t, err)
	ib, err := WinnerIndex(b, 5)
	require.NoError(t, err)
	require.Equal(t, ia, ib)
	require.Equal(t, 4, ia) // 9 mod 5
}

func TestWinnerIndex_Errors(t *testing.T) {
	_, err := WinnerIndex(make([]byte, 64), 0)
	require.Error(t, err)

	_, err = WinnerIndex([]byte{1, 2, 3}, 10)
	require.Error(t, err)
}
