package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/ordering/common/key"
)

func plainKeychains(n int) []*PlainKeychain {
	kcs := make([]*PlainKeychain, n)
	for i := range kcs {
		kcs[i] = NewPlainKeychain(n, key.Index(i))
	}
	return kcs
}

func TestPlainSignVerify(t *testing.T) {
	kcs := plainKeychains(4)
	msg := []byte("unit 0 of participant 1")

	sig, err := kcs[1].Sign(msg)
	require.NoError(t, err)
	require.Equal(t, key.Index(1), sig.Index())

	for _, kc := range kcs {
		require.True(t, kc.Verify(msg, sig, 1))
		require.False(t, kc.Verify(msg, sig, 2))
		require.False(t, kc.Verify([]byte("another message"), sig, 1))
		require.False(t, kc.Verify(msg, nil, 1))
	}

	// the signature holds its own copy of the message
	msg[0] = 'U'
	require.False(t, kcs[0].Verify(msg, sig, 1))
}

func TestSignatureSetSlots(t *testing.T) {
	kcs := plainKeychains(3)
	msg := []byte("hello")
	s0, _ := kcs[0].Sign(msg)
	s1, _ := kcs[1].Sign(msg)
	other, _ := kcs[0].Sign([]byte("other"))

	set := kcs[0].BootstrapMulti(s0, 0)
	require.Equal(t, 3, set.Size())
	require.Equal(t, 1, set.Count())

	// at most one signature per slot
	set.Add(other, 0)
	require.Equal(t, s0, set.Get(0))
	require.Equal(t, 1, set.Count())

	// out of range indices are ignored
	set.Add(s1, 3)
	require.Equal(t, 1, set.Count())
	require.Nil(t, set.Get(3))

	set.Add(s1, 1)
	require.Equal(t, 2, set.Count())

	var seen []key.Index
	set.Each(func(i key.Index, _ *Signature) bool {
		seen = append(seen, i)
		return true
	})
	require.Equal(t, []key.Index{0, 1}, seen)

	merged := NewSignatureSet(3).Merge(set)
	require.Equal(t, 2, merged.Count())
}

func TestIsCompleteBelowQuorum(t *testing.T) {
	n := 4
	kcs := plainKeychains(n)
	msg := []byte("certify me")
	require.Equal(t, 3, key.Quorum(n))

	set := NewSignatureSet(n)
	for i := 0; i < key.Quorum(n)-1; i++ {
		sig, err := kcs[i].Sign(msg)
		require.NoError(t, err)
		set.Add(sig, key.Index(i))
		require.False(t, kcs[0].IsComplete(msg, set))
	}

	sig, err := kcs[n-1].Sign(msg)
	require.NoError(t, err)
	set.Add(sig, key.Index(n-1))
	require.True(t, kcs[0].IsComplete(msg, set))
	require.False(t, kcs[0].IsComplete([]byte("different"), set))
}

func TestIsCompleteMismatchedSigner(t *testing.T) {
	n := 4
	kcs := plainKeychains(n)
	msg := []byte("certify me")

	set := NewSignatureSet(n)
	s0, _ := kcs[0].Sign(msg)
	s1, _ := kcs[1].Sign(msg)
	s3, _ := kcs[3].Sign(msg)
	set.Add(s0, 0)
	set.Add(s1, 1)
	// slot 2 holds a signature embedding index 3
	set.Add(s3, 2)
	require.Equal(t, key.Quorum(n), set.Count())
	require.False(t, kcs[0].IsComplete(msg, set))
}

func TestIsCompleteWrongSize(t *testing.T) {
	kcs := plainKeychains(3)
	msg := []byte("m")
	set := NewSignatureSet(4)
	for i := 0; i < 3; i++ {
		sig, _ := kcs[i].Sign(msg)
		set.Add(sig, key.Index(i))
	}
	require.False(t, kcs[0].IsComplete(msg, set))
	require.False(t, kcs[0].IsComplete(msg, nil))
}

func TestLoneParticipantQuorum(t *testing.T) {
	kc := NewPlainKeychain(1, 0)
	msg := []byte("alone")
	sig, err := kc.Sign(msg)
	require.NoError(t, err)
	require.True(t, kc.IsComplete(msg, kc.BootstrapMulti(sig, 0)))
}
