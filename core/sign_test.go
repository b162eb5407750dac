package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignerSignAndVerify(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	root := SignedRoot{Length: 42, Hash: []byte("deadbeef")}
	sig, err := signer.Sign(root)
	require.NoError(t, err)

	pub, err := signer.PublicKey()
	require.NoError(t, err)

	got, err := Verify(pub, sig)
	require.NoError(t, err)
	require.Equal(t, root.Length, got.Length)
	require.Equal(t, root.Hash, got.Hash)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	pub, err := signer.PublicKey()
	require.NoError(t, err)

	sig, err := signer.Sign(SignedRoot{Length: 1, Hash: []byte("x")})
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0xff

	_, err = Verify(pub, sig)
	require.Error(t, err)
}

func TestSignerPKCS8Roundtrip(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	der, err := signer.MarshalPKCS8()
	require.NoError(t, err)

	restored, err := SignerFromPKCS8(der)
	require.NoError(t, err)

	sig, err := restored.Sign(SignedRoot{Length: 3, Hash: []byte("y")})
	require.NoError(t, err)
	pub, err := signer.PublicKey()
	require.NoError(t, err)
	_, err = Verify(pub, sig)
	require.NoError(t, err)
}

func TestDiscoveryKeyIsDeterministic(t *testing.T) {
	pub := []byte("some-public-key-bytes")
	require.Equal(t, DiscoveryKey(pub), DiscoveryKey(pub))
	require.NotEqual(t, DiscoveryKey(pub), DiscoveryKey([]byte("other")))
}
