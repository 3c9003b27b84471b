package consensus

import "github.com/supernova-chain/supernova/crypto"

const BLOCK_HEADER_BYTES = 116

// ParseBlockHeaderBytes parses a canonical 116-byte block header. It is the
// parser used for standalone header transfer (P2P headers/compact blocks,
// miner templates) where only the header, not a full block, is on hand.
func ParseBlockHeaderBytes(b []byte) (BlockHeader, error) {
	var h BlockHeader
	off := 0

	version, err := readU32le(b, &off)
	if err != nil {
		return h, err
	}
	prev, err := readBytes(b, &off, 32)
	if err != nil {
		return h, err
	}
	merkle, err := readBytes(b, &off, 32)
	if err != nil {
		return h, err
	}
	ts, err := readU64le(b, &off)
	if err != nil {
		return h, err
	}
	target, err := readBytes(b, &off, 32)
	if err != nil {
		return h, err
	}
	nonce, err := readU64le(b, &off)
	if err != nil {
		return h, err
	}
	if off != BLOCK_HEADER_BYTES {
		return h, txerr(TX_ERR_PARSE, "block header length mismatch")
	}

	h.Version = version
	copy(h.PrevBlockHash[:], prev)
	copy(h.MerkleRoot[:], merkle)
	h.Timestamp = ts
	copy(h.Target[:], target)
	h.Nonce = nonce
	return h, nil
}

// BlockHash hashes a serialized header with the package's fixed hash primitive.
// It exists alongside the provider-parameterized BlockHeaderHash for callers
// that already have canonical header bytes on hand (e.g. PowCheck) and don't
// need a swappable crypto backend.
func BlockHash(headerBytes []byte) ([32]byte, error) {
	if len(headerBytes) != BLOCK_HEADER_BYTES {
		var zero [32]byte
		return zero, txerr(TX_ERR_PARSE, "block hash: invalid header length")
	}
	return sha3_256(headerBytes), nil
}

// BlockHeaderHash computes the canonical block header hash using the supplied
// crypto provider, so header hashing participates in the same swappable
// backend (wolfCrypt/OpenSSL) as signature verification.
func BlockHeaderHash(p crypto.CryptoProvider, header BlockHeader) ([32]byte, error) {
	return p.SHA3_256(BlockHeaderBytes(header)), nil
}

// blockHeaderHash is the internal, error-free variant used by validation code
// that already holds a *BlockHeader; SHA3_256 on a CryptoProvider never fails.
func blockHeaderHash(p crypto.CryptoProvider, header *BlockHeader) [32]byte {
	return p.SHA3_256(BlockHeaderBytes(*header))
}
