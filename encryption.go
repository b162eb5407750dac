package corelog

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// encryptor encrypts and decrypts individual blocks with a per-log secret
// key. Each block gets a fresh random nonce prefixed to its ciphertext;
// the block's own index and fork are additionally folded into the nonce
// so that a block can never be swapped for another block, or replayed
// across a fork that overwrote its index, undetected even if the
// plaintexts match.
type encryptor struct {
	key [32]byte
}

func newEncryptor(key []byte) (*encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrInvalidKey, len(key))
	}
	var k [32]byte
	copy(k[:], key)
	return &encryptor{key: k}, nil
}

func (e *encryptor) seal(index, fork uint64, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:nonceSize-16]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	binary.BigEndian.PutUint64(nonce[nonceSize-16:nonceSize-8], fork)
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], index)
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &e.key), nil
}

func (e *encryptor) open(index, fork uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("corelog: ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	if binary.BigEndian.Uint64(nonce[nonceSize-16:nonceSize-8]) != fork {
		return nil, fmt.Errorf("corelog: block fork/nonce mismatch")
	}
	if binary.BigEndian.Uint64(nonce[nonceSize-8:]) != index {
		return nil, fmt.Errorf("corelog: block index/nonce mismatch")
	}
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &e.key)
	if !ok {
		return nil, fmt.Errorf("corelog: decryption failed")
	}
	return plain, nil
}
