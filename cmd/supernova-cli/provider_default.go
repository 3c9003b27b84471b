//go:build !wolfcrypt_dylib

package main

import (
	"errors"

	"github.com/supernova-chain/supernova/crypto"
)

func loadCryptoProvider() (crypto.CryptoProvider, func(), error) {
	if wolfcryptStrict() {
		return nil, func() {}, errors.New("SUPERNOVA_WOLFCRYPT_STRICT=1 requires the wolfcrypt_dylib build tag")
	}
	return crypto.DevStdCryptoProvider{}, func() {}, nil
}

