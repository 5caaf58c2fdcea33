package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestVerifyMessageRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	digest := accounts.TextHash([]byte("hello vaultcore"))
	sig, err := crypto.Sign(digest, priv)
	require.NoError(t, err)

	result, err := VerifyMessage(addr, "hello vaultcore", "0x"+bytesToHex(sig))
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, addr, result.RecoveredAddress)
}

func TestVerifyMessageRejectsWrongAddress(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherAddr := crypto.PubkeyToAddress(other.PublicKey).Hex()

	digest := accounts.TextHash([]byte("hello vaultcore"))
	sig, err := crypto.Sign(digest, priv)
	require.NoError(t, err)

	result, err := VerifyMessage(otherAddr, "hello vaultcore", "0x"+bytesToHex(sig))
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestVerifyMessageRejectsMalformedSignature(t *testing.T) {
	_, err := VerifyMessage("0x1111111111111111111111111111111111111a", "hi", "0xnotasignature")
	require.Error(t, err)
}

func bytesToHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
